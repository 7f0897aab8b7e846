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

// Package buildinfo persists per-rule build metadata: the keys a successful
// build produced (spec §3's BuildInfo record), one file per key under the
// rule's .metadata directory (spec §6).
//
// Atomicity is grounded directly on the corpus's own
// ingestion.ManifestManager.SaveManifest: write to a temp file, os.Rename
// into place, clean up the temp file on failure. Each key file is replaced
// atomically: readers only ever see a complete, previously-renamed file or
// the previous generation's file, never a partial write. See Update for
// what holds for a set of keys.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a per-filesystem BuildInfoStore (spec §4.3), created on demand
// and then shared by every rule build rooted at the same directory tree.
// Per-target operations are serialized by the single-writer-per-target
// property the engine guarantees (spec §5); Store itself only needs to
// protect its own directory-creation bookkeeping.
type Store struct {
	mu      sync.Mutex
	created map[string]bool
}

// New creates a BuildInfoStore.
func New() *Store {
	return &Store{created: make(map[string]bool)}
}

// Read returns the value for a single key, or ("", false) if absent —
// covers both the "absent" (directory never written) and "stale" (written
// by a prior build, key just not present) states from spec §4.3 uniformly;
// callers distinguish those by also checking RuleKey equality.
func (s *Store) Read(metadataDir, key string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(metadataDir, key)) //nolint:gosec // G304: path built from rule's own metadata dir
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ReadAll returns every key currently on disk for a target's metadata
// directory. Missing directory is not an error — it means "absent".
func (s *Store) ReadAll(metadataDir string) (map[string]string, error) {
	entries, err := os.ReadDir(metadataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("buildinfo: list %s: %w", metadataDir, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, ok := s.Read(metadataDir, e.Name())
		if ok {
			out[e.Name()] = v
		}
	}
	return out, nil
}

// Update writes every key in kv to metadataDir. Each key is its own file:
// every new file is written to a temp name first and renamed only after
// every write succeeded, so a failure while writing leaves only orphaned
// temp files behind and the previous key set untouched. The renames then
// happen one key at a time, so the key set as a whole is not replaced
// atomically: a reader between two renames, or a rename failure midway,
// sees some keys of the new set next to the rest of the old one.
func (s *Store) Update(metadataDir string, kv map[string]string) error {
	if err := s.ensureDir(metadataDir); err != nil {
		return err
	}

	type pending struct{ tmp, final string }
	var written []pending
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p.tmp)
		}
	}

	for key, value := range kv {
		final := filepath.Join(metadataDir, key)
		tmp := final + ".tmp"
		if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
			cleanup()
			return fmt.Errorf("buildinfo: write %s: %w", tmp, err)
		}
		written = append(written, pending{tmp: tmp, final: final})
	}

	for _, p := range written {
		if err := os.Rename(p.tmp, p.final); err != nil {
			_ = os.Remove(p.tmp)
			return fmt.Errorf("buildinfo: rename %s: %w", p.tmp, err)
		}
	}
	return nil
}

// UpdateJSON is Update for a single key whose value is JSON-marshaled,
// covering RECORDED_PATHS / RECORDED_PATH_HASHES / DEP_FILE (spec §6).
func (s *Store) UpdateJSON(metadataDir, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("buildinfo: marshal %s: %w", key, err)
	}
	return s.Update(metadataDir, map[string]string{key: string(data)})
}

// ReadJSON reads and unmarshals a single JSON-valued key.
func (s *Store) ReadJSON(metadataDir, key string, out any) (bool, error) {
	raw, ok := s.Read(metadataDir, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("buildinfo: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a target's entire metadata directory. Used both for
// pre-unpack clearing (spec §4.5: "before unpacking a fetched artifact, the
// engine MUST clear the rule's prior on-disk metadata") and for best-effort
// cleanup after a step-5 failure (spec §7).
func (s *Store) Delete(metadataDir string) error {
	if err := os.RemoveAll(metadataDir); err != nil {
		return fmt.Errorf("buildinfo: delete %s: %w", metadataDir, err)
	}
	s.mu.Lock()
	delete(s.created, metadataDir)
	s.mu.Unlock()
	return nil
}

func (s *Store) ensureDir(metadataDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[metadataDir] {
		return nil
	}
	if err := os.MkdirAll(metadataDir, 0o750); err != nil {
		return fmt.Errorf("buildinfo: mkdir %s: %w", metadataDir, err)
	}
	s.created[metadataDir] = true
	return nil
}
