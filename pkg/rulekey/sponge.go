// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rulekey computes the four rule-key variants (default, input-based,
// dep-file, manifest) from a rule's declared fields and inputs.
//
// The canonical serializer below is grounded directly on the reference
// incremental-build engine's RuleHash/ruleHash (please's
// src/build/incrementality.go): feed a sha1.Hash sponge with every
// key-relevant field in a fixed order, write distinct sentinel bytes for
// booleans so true/false never collide with an empty string, and sort
// unordered collections (map keys) before hashing them so iteration order
// never leaks into the digest.
package rulekey

import (
	"fmt"
	"hash"
	"sort"
	"strconv"

	"github.com/kraklabs/forge/pkg/rule"
)

// sentinel bytes for booleans, chosen to differ from any valid length
// prefix or string content collision the way the reference's
// boolTrueHashValue/boolFalseHashValue do.
var (
	boolTrue  = []byte{0x02}
	boolFalse = []byte{0x01}
)

// sponge wraps a hash.Hash with typed Write helpers so every builder feeds
// it in the same canonical shape.
type sponge struct {
	h hash.Hash
}

func newSponge(h hash.Hash) *sponge {
	return &sponge{h: h}
}

func (s *sponge) writeString(v string) {
	s.h.Write([]byte(v)) //nolint:errcheck // hash.Hash.Write never errors
}

func (s *sponge) writeBool(v bool) {
	if v {
		s.h.Write(boolTrue) //nolint:errcheck
	} else {
		s.h.Write(boolFalse) //nolint:errcheck
	}
}

func (s *sponge) writeBytes(b []byte) {
	s.h.Write(b) //nolint:errcheck
}

// writeOrdered feeds a collection verbatim, one element per call, in the
// order given; writeField passes it an already sorted copy.
func (s *sponge) writeOrdered(vs []string) {
	for _, v := range vs {
		s.writeString(v)
	}
}

// writeField feeds a single KeyRelevantField. Values are limited to the
// primitive shapes the rule graph is expected to produce; anything else is
// rendered via fmt-free type switch to keep the serializer allocation-light
// and avoid reflection, per the design notes in spec §9 ("avoid runtime
// reflection; prefer... manual registration per rule kind").
func (s *sponge) writeField(f rule.KeyRelevantField) {
	s.writeString(f.Name)
	switch v := f.Value.(type) {
	case string:
		s.writeString(v)
	case bool:
		s.writeBool(v)
	case []string:
		sorted := append([]string(nil), v...)
		sort.Strings(sorted)
		s.writeOrdered(sorted)
	case int:
		s.writeString(strconv.Itoa(v))
	default:
		// Unknown shapes still participate in the hash via their Go
		// %v rendering so a field is never silently skipped; callers
		// should prefer the typed cases above for anything perf-sensitive.
		s.writeString(fmt.Sprintf("%v", v))
	}
}

func (s *sponge) sum() rule.Key {
	var k rule.Key
	copy(k[:], s.h.Sum(nil))
	return k
}
