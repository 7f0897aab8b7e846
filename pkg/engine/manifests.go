// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/kraklabs/forge/pkg/artifactcache"
	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/manifest"
	"github.com/kraklabs/forge/pkg/rule"
)

// manifestFileName is the well-known path a rule's manifest lives under,
// inside its own metadata directory (spec §4.6: "a single file per rule at
// a well-known path under the build-info metadata directory").
const manifestFileName = "MANIFEST"

// manifestRegistry owns the in-memory Manifest for every rule that has
// used manifest caching this run. Manifest writes for a given rule are
// serialized by the single-writer-per-target rule (spec §5): the rule's
// own local build is the only writer, so a per-target mutex here is
// purely about safely lazy-loading the in-memory form the first time, not
// about serializing concurrent writers that shouldn't exist.
type manifestRegistry struct {
	maxEntries int

	mu    sync.Mutex
	byKey map[rule.Target]*manifest.Manifest
}

func newManifestRegistry(maxEntries int) *manifestRegistry {
	return &manifestRegistry{maxEntries: maxEntries, byKey: make(map[rule.Target]*manifest.Manifest)}
}

// get loads target's manifest, memoizing it for subsequent calls within
// this Engine's lifetime. It checks metaDir first (route (a), the common
// case of rebuilding in the same workspace); if that on-disk file is
// absent — a genuinely fresh workspace, spec §6's "manifest ... stored
// GZIP-compressed on the wire to the artifact cache" — it falls back to
// fetching the blob from cache under remoteKey, the rule's manifest key
// (deterministic from the rule's current potential inputs, independent of
// the manifest's own content). Only once both miss does it start empty.
func (mr *manifestRegistry) get(ctx context.Context, target rule.Target, metaDir string, store *buildinfo.Store, cache artifactcache.Cache, remoteKey rule.Key) *manifest.Manifest {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if m, ok := mr.byKey[target]; ok {
		return m
	}

	m := manifest.New(mr.maxEntries)
	if raw, ok := store.Read(metaDir, manifestFileName); ok {
		if loaded, err := manifest.Deserialize(bytes.NewReader([]byte(raw))); err == nil {
			m = loaded
			m.MaxEntries = mr.maxEntries
		}
	} else if cache != nil {
		if res := cache.Fetch(ctx, remoteKey.String()); res.Status == artifactcache.Hit {
			loaded, err := manifest.Deserialize(res.Blob)
			res.Blob.Close()
			if err == nil {
				m = loaded
				m.MaxEntries = mr.maxEntries
			}
		}
	}
	mr.byKey[target] = m
	return m
}

// persist serializes target's in-memory manifest back to metaDir via the
// same atomic buildinfo.Store.Update path every other metadata key uses,
// and uploads the same blob to the artifact cache under remoteKey so a
// fresh workspace sharing that cache can recover it (see get).
func (mr *manifestRegistry) persist(ctx context.Context, target rule.Target, metaDir string, store *buildinfo.Store, cache artifactcache.Cache, remoteKey rule.Key) error {
	mr.mu.Lock()
	m, ok := mr.byKey[target]
	mr.mu.Unlock()
	if !ok {
		return nil
	}

	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		return fmt.Errorf("engine: serialize manifest for %s: %w", target, err)
	}
	if err := store.Update(metaDir, map[string]string{manifestFileName: buf.String()}); err != nil {
		return err
	}

	if cache != nil {
		errCh := cache.Store(ctx, artifactcache.Info{Keys: []string{remoteKey.String()}}, bytes.NewReader(buf.Bytes()))
		if err := <-errCh; err != nil {
			// Best-effort, like every other artifact upload (spec §4.4/§7):
			// the local copy just persisted above is always authoritative
			// for this workspace.
			return nil //nolint:nilerr
		}
	}
	return nil
}
