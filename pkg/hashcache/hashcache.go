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

// Package hashcache memoizes path -> content-hash lookups so the rule-key
// factory and dep-file machinery never hash the same file twice in a build.
//
// The memoization strategy is grounded on the reference incremental build
// engine's pathHash/pathHashMemoizer (a map guarded by a single
// sync.RWMutex, recompute only on demand or on explicit invalidation) and on
// the corpus's own HashDeltaDetector.computeFileHash, which hashes file
// content with crypto/sha256 rather than mtime — the same approach used
// here so a no-op touch of a file never triggers a spurious rebuild.
package hashcache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Hash is a content hash of a file or directory tree.
type Hash [sha256.Size]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

// Layer is a single memoization layer, typically one per filesystem or
// overlay ("stacked layering is permitted" per spec §4.1). GetLayer and
// SetLayer address one layer by index (Get and Set use layer 0); a miss in
// one layer never consults another. Invalidate clears every layer.
type Layer struct {
	mu    sync.RWMutex
	cache map[string]Hash
}

func newLayer() *Layer {
	return &Layer{cache: make(map[string]Hash)}
}

func (l *Layer) get(path string) (Hash, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.cache[path]
	return h, ok
}

func (l *Layer) set(path string, h Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[path] = h
}

func (l *Layer) invalidate(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, path)
}

// Cache is the process-wide FileHashCache (spec C1): Get/Set/Invalidate,
// backed by one or more stacked Layers.
//
// Invariant (caller-enforced, per spec §4.1): after any operation that
// mutates a path, Invalidate must precede the next Get for that path. Cache
// itself never watches the filesystem for changes.
type Cache struct {
	layers []*Layer
}

// New creates a FileHashCache with numLayers stacked memoization layers.
// Most callers want a single layer; multiple layers are useful when a
// build composes several logical filesystems (e.g. a source tree plus a
// generated-output tree) that should invalidate independently.
func New(numLayers int) *Cache {
	if numLayers < 1 {
		numLayers = 1
	}
	c := &Cache{layers: make([]*Layer, numLayers)}
	for i := range c.layers {
		c.layers[i] = newLayer()
	}
	return c
}

// Get returns the content hash of path, computing and memoizing it on
// first access. The default (and for New(1), only) layer is consulted.
func (c *Cache) Get(path string) (Hash, error) {
	return c.GetLayer(0, path)
}

// GetLayer is Get against a specific stacked layer index.
func (c *Cache) GetLayer(layer int, path string) (Hash, error) {
	l := c.layer(layer)
	if h, ok := l.get(path); ok {
		return h, nil
	}
	h, err := hashPath(path)
	if err != nil {
		return Hash{}, err
	}
	l.set(path, h)
	return h, nil
}

// Set seeds the cache with a known hash for path without touching disk.
// Used by the engine to seed C1 with RECORDED_PATH_HASHES after a
// fetched-from-cache build (spec §4.9, post-build step 5).
func (c *Cache) Set(path string, h Hash) {
	c.SetLayer(0, path, h)
}

// SetLayer is Set against a specific stacked layer index.
func (c *Cache) SetLayer(layer int, path string, h Hash) {
	c.layer(layer).set(path, h)
}

// Invalidate drops any memoized hash for path across all layers. Must be
// called by the engine before any subsequent Get for a path it just wrote.
func (c *Cache) Invalidate(path string) {
	for _, l := range c.layers {
		l.invalidate(path)
	}
}

func (c *Cache) layer(i int) *Layer {
	if i < 0 || i >= len(c.layers) {
		return c.layers[0]
	}
	return c.layers[i]
}

func hashPath(path string) (Hash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Hash{}, err
	}
	if info.IsDir() {
		return hashDir(path)
	}
	return hashFile(path)
}

func hashFile(path string) (Hash, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path supplied by the build graph, not untrusted input
	if err != nil {
		return Hash{}, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Hash{}, err
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// hashDir hashes a directory tree by feeding each regular file's relative
// path and content hash into a single sponge, in lexical walk order so the
// result is deterministic regardless of the OS's directory iteration order.
func hashDir(root string) (Hash, error) {
	h := sha256.New()
	entries, err := sortedWalk(root)
	if err != nil {
		return Hash{}, err
	}
	for _, e := range entries {
		fh, err := hashFile(e)
		if err != nil {
			return Hash{}, err
		}
		rel, err := filepath.Rel(root, e)
		if err != nil {
			return Hash{}, err
		}
		io.WriteString(h, rel) //nolint:errcheck // hash.Hash.Write never errors
		h.Write(fh[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}
