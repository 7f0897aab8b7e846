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

package rulekey

import (
	"crypto/sha1" //nolint:gosec // used as a content fingerprint, not for cryptographic integrity
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/kraklabs/forge/pkg/hashcache"
	"github.com/kraklabs/forge/pkg/rule"
)

// DefaultKeyFn resolves a dependency's previously computed default key.
// The engine supplies this as a closure over its memoized result map so
// the factory never has to know about futures or scheduling.
type DefaultKeyFn func(rule.Target) (rule.Key, bool)

// ABIKeyFn resolves a dependency's ABI key for input-based computation.
type ABIKeyFn func(rule.Target) (rule.Key, bool)

// Factory builds rule keys against a shared FileHashCache and a process-wide
// seed. A process-wide key-seed integer is folded into every key so a fleet
// can invalidate all keys at once (spec §4.2's tie-break policy) without
// salting on identity: two rules with identical logical inputs always
// produce identical keys for a given seed.
type Factory struct {
	hashes      *hashcache.Cache
	seed        uint64
	sizeLimit   int // 0 = unbounded
}

// NewFactory creates a Factory. sizeLimit bounds the number of bytes fed
// into an input-based key before it fails with ErrSizeLimitExceeded; 0
// means unbounded.
func NewFactory(hashes *hashcache.Cache, seed uint64, sizeLimit int) *Factory {
	return &Factory{hashes: hashes, seed: seed, sizeLimit: sizeLimit}
}

func (f *Factory) newSponge() *sponge {
	h := sha1.New() //nolint:gosec
	var seedBuf [8]byte
	binary.BigEndian.PutUint64(seedBuf[:], f.seed)
	h.Write(seedBuf[:]) //nolint:errcheck
	return newSponge(h)
}

// Default computes the rule's default key: every rule-key-relevant field,
// every source, and for each dependency the dependency's own default key.
// Always computable — it never fails, matching spec §3's "Default: ...
// Always computable."
func (f *Factory) Default(r *rule.Rule, depKey DefaultKeyFn) rule.Key {
	s := f.newSponge()
	s.writeString(string(r.Target))
	s.writeString(r.Type)

	sources := append([]string(nil), r.Sources...)
	sort.Strings(sources)
	for _, src := range sources {
		h, err := f.hashes.Get(src)
		if err != nil {
			// A missing source still participates deterministically: feed
			// the path alone so two runs over the same broken input agree,
			// rather than silently producing different keys.
			s.writeString("missing:" + src)
			continue
		}
		s.writeString(src)
		s.writeBytes(h[:])
	}

	for _, field := range r.Fields {
		s.writeField(field)
	}

	deps := append([]rule.Target(nil), r.Deps...)
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	for _, dep := range deps {
		s.writeString(string(dep))
		if k, ok := depKey(dep); ok {
			s.writeBytes(k[:])
		}
	}

	return s.sum()
}

// InputBased computes the rule's input-based key: the content of direct
// inputs plus each dependency's ABI key (not its full key), skipping fields
// marked NonInput. Fails with ErrSizeLimitExceeded if the hashed input set
// exceeds the configured cap; the engine then skips input-based caching for
// this rule (spec §4.2, §4.9 edge cases).
func (f *Factory) InputBased(r *rule.Rule, abiKey ABIKeyFn) (rule.Key, error) {
	s := f.newSponge()
	s.writeString(string(r.Target))
	s.writeString(r.Type)

	var total int
	sources := append([]string(nil), r.Sources...)
	sort.Strings(sources)
	for _, src := range sources {
		h, err := f.hashes.Get(src)
		if err != nil {
			return rule.Key{}, fmt.Errorf("rulekey: hash source %q: %w", src, err)
		}
		s.writeString(src)
		s.writeBytes(h[:])
		total += len(src) + len(h)
		if f.sizeLimit > 0 && total > f.sizeLimit {
			return rule.Key{}, ErrSizeLimitExceeded
		}
	}

	for _, field := range r.Fields {
		if field.NonInput {
			continue
		}
		s.writeField(field)
	}

	deps := append([]rule.Target(nil), r.Deps...)
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	for _, dep := range deps {
		s.writeString(string(dep))
		if k, ok := abiKey(dep); ok {
			s.writeBytes(k[:])
		}
	}

	return s.sum(), nil
}

// DepFileKey builds a key from the rule's non-file fields plus the actual
// files listed in entries, each hashed. tolerateMissing controls whether a
// referenced file that no longer exists is a hard error (ErrMissingInput)
// or simply excluded from the hash: the engine tolerates missing inputs
// during pre-build lookup but not after a local build just produced the
// dep file (spec §4.2).
func (f *Factory) DepFileKey(r *rule.Rule, entries []rule.InputDescriptor, tolerateMissing bool) (rule.Key, error) {
	s := f.newSponge()
	s.writeString(string(r.Target))
	s.writeString(r.Type)
	for _, field := range r.Fields {
		if field.NonInput {
			continue
		}
		s.writeField(field)
	}

	sorted := append([]rule.InputDescriptor(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for _, e := range sorted {
		if e.NonFile {
			s.writeString(e.Path)
			s.writeString(e.Value)
			continue
		}
		h, err := f.hashes.Get(e.Path)
		if err != nil {
			if tolerateMissing {
				continue
			}
			return rule.Key{}, fmt.Errorf("%w: %s", ErrMissingInput, e.Path)
		}
		s.writeString(e.Path)
		s.writeBytes(h[:])
	}

	return s.sum(), nil
}

// ManifestResult is the (key, input-hash-tuple) pair produced by
// ManifestKey: the tuple is what ManifestStore indexes lookups by.
type ManifestResult struct {
	Key    rule.Key
	Inputs []ManifestInput
}

// ManifestInput is one entry of the hash tuple used for manifest lookup.
type ManifestInput struct {
	Path string
	Hash hashcache.Hash
}

// ManifestKey builds the manifest-indexing key: same construction as
// DepFileKey, but over the rule's *potential* input universe (every path
// for which CoveredByDepFile reports true) rather than the observed set.
// Missing potential inputs are always tolerated — the universe is an
// over-approximation and need not all exist on disk.
func (f *Factory) ManifestKey(r *rule.Rule, potentialInputs []string) (ManifestResult, error) {
	covered := make([]string, 0, len(potentialInputs))
	for _, p := range potentialInputs {
		if r.Capabilities.CoveredByDepFile(p) {
			covered = append(covered, p)
		}
	}
	sort.Strings(covered)

	s := f.newSponge()
	s.writeString(string(r.Target))
	s.writeString(r.Type)
	for _, field := range r.Fields {
		if field.NonInput {
			continue
		}
		s.writeField(field)
	}

	tuple := make([]ManifestInput, 0, len(covered))
	for _, p := range covered {
		h, err := f.hashes.Get(p)
		if err != nil {
			continue // potential input need not exist
		}
		s.writeString(p)
		s.writeBytes(h[:])
		tuple = append(tuple, ManifestInput{Path: p, Hash: h})
	}

	return ManifestResult{Key: s.sum(), Inputs: tuple}, nil
}

// InputTuplePaths returns the paths of a ManifestResult's input tuple, in
// the deterministic order they were hashed.
func (m ManifestResult) InputTuplePaths() []string {
	paths := make([]string, len(m.Inputs))
	for i, in := range m.Inputs {
		paths[i] = in.Path
	}
	return paths
}
