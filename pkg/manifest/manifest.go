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

// Package manifest implements the append-only dep-file-caching index (spec
// §4.6): an ordered list of (input-hash-tuple, rule-key) entries, one file
// per rule under its build-info metadata directory.
//
// Structure and add/lookup semantics are grounded on the teacher's own
// ingestion.ProjectManifest and ComputeFileDiff in manifest.go: an
// in-memory slice of entries, append-on-write, diffed against the current
// filesystem state to decide whether an entry still matches.
package manifest

import (
	"github.com/kraklabs/forge/pkg/hashcache"
	"github.com/kraklabs/forge/pkg/rule"
	"github.com/kraklabs/forge/pkg/rulekey"
)

// TupleHashLength is the on-wire width of a single input's hash within a
// manifest entry (spec §6: "20-byte hash"). FileHashCache's content hash
// is SHA-256 (32 bytes, stronger collision resistance for the hot-path
// memoization layer); AddEntry truncates each input hash to its leading 20
// bytes when it records an entry, and Lookup compares the same leading 20
// bytes of the current hash, so entries already hold the wire width.
// Outside this package the full hash is kept.
const TupleHashLength = 20

// Entry is one (input-hash-tuple, rule-key) pair.
type Entry struct {
	Inputs []TupleInput
	Key    rule.Key
}

// TupleInput is one member of an entry's hash tuple.
type TupleInput struct {
	Path string
	Hash [TupleHashLength]byte
}

func truncate(h hashcache.Hash) [TupleHashLength]byte {
	var out [TupleHashLength]byte
	copy(out[:], h[:TupleHashLength])
	return out
}

// Manifest is the in-memory, ordered entry list for a single rule. Not
// safe for concurrent use — callers serialize access via the
// single-writer-per-target property the engine already guarantees for a
// rule's own build (spec §5).
type Manifest struct {
	MaxEntries int
	entries    []Entry
}

// New creates an empty Manifest bounded at maxEntries (spec §6's
// max-dep-file-cache-entries).
func New(maxEntries int) *Manifest {
	return &Manifest{MaxEntries: maxEntries}
}

// Size returns the current entry count.
func (m *Manifest) Size() int { return len(m.entries) }

// Lookup scans entries in insertion order and returns the rule key of the
// first whose hash tuple matches the current content hashes of its own
// covered inputs. hashOf resolves a path's current content hash (normally
// hashcache.Cache.Get); a path that no longer resolves always fails the
// match for that entry.
func (m *Manifest) Lookup(hashOf func(path string) (hashcache.Hash, error)) (rule.Key, bool) {
	for _, e := range m.entries {
		if entryMatches(e, hashOf) {
			return e.Key, true
		}
	}
	return rule.Key{}, false
}

func entryMatches(e Entry, hashOf func(path string) (hashcache.Hash, error)) bool {
	for _, in := range e.Inputs {
		h, err := hashOf(in.Path)
		if err != nil {
			return false
		}
		if truncate(h) != in.Hash {
			return false
		}
	}
	return true
}

// AddEntry appends a new entry built from a rulekey.ManifestResult. Per
// spec §4.6's bounded-size policy, if the manifest is already at
// MaxEntries the entire manifest is reset to empty before the new entry is
// added (S6: "the persisted manifest has exactly 1 entry [after overflow],
// reset then added").
func (m *Manifest) AddEntry(result rulekey.ManifestResult) {
	if m.MaxEntries > 0 && len(m.entries) >= m.MaxEntries {
		m.entries = nil
	}

	inputs := make([]TupleInput, len(result.Inputs))
	for i, in := range result.Inputs {
		inputs[i] = TupleInput{Path: in.Path, Hash: truncate(in.Hash)}
	}
	m.entries = append(m.entries, Entry{Inputs: inputs, Key: result.Key})
}
