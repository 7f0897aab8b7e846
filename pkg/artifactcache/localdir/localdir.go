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

// Package localdir is a reference artifactcache.Cache backed by a local
// directory: one file per key, content-addressed by copy (not symlink, so
// a later store under the same key can't corrupt an in-flight fetch).
//
// Concurrency control is grounded on storage.EmbeddedBackend's
// sync.RWMutex-guarded handle pattern from the teacher repo: readers may
// overlap freely, and a store holds the exclusive lock while it writes and
// renames the blob and metadata files for every one of its keys.
package localdir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kraklabs/forge/pkg/artifactcache"
)

// Cache is a local-directory-backed artifactcache.Cache.
type Cache struct {
	root string
	mu   sync.RWMutex
}

// New creates a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("localdir: mkdir %s: %w", dir, err)
	}
	return &Cache{root: dir}, nil
}

func (c *Cache) blobPath(key string) string {
	return filepath.Join(c.root, key+".blob")
}

func (c *Cache) metaPath(key string) string {
	return filepath.Join(c.root, key+".meta")
}

// Fetch implements artifactcache.Cache.
func (c *Cache) Fetch(_ context.Context, key string) artifactcache.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.blobPath(key)) //nolint:gosec // G304: key is a hex rule key, not attacker input
	if err != nil {
		if os.IsNotExist(err) {
			return artifactcache.Result{Status: artifactcache.Miss}
		}
		return artifactcache.Result{Status: artifactcache.Error, Err: err}
	}

	meta, _ := readMeta(c.metaPath(key)) // missing/corrupt metadata never fails a hit
	return artifactcache.Result{Status: artifactcache.Hit, Blob: f, Metadata: meta}
}

// Store implements artifactcache.Cache. It reads blob fully before
// returning, then writes the files in a goroutine; the first write error,
// if any, is sent on the returned channel before it is closed.
func (c *Cache) Store(_ context.Context, info artifactcache.Info, blob io.Reader) <-chan error {
	done := make(chan error, 1)

	data, err := io.ReadAll(blob)
	if err != nil {
		done <- fmt.Errorf("localdir: read blob: %w", err)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		c.mu.Lock()
		defer c.mu.Unlock()

		for _, key := range info.Keys {
			if err := writeAtomic(c.blobPath(key), data); err != nil {
				done <- err
				return
			}
			if err := writeMeta(c.metaPath(key), info.Metadata); err != nil {
				done <- err
				return
			}
		}
	}()

	return done
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("localdir: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("localdir: rename %s: %w", tmp, err)
	}
	return nil
}
