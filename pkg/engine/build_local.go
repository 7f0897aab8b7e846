// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kraklabs/forge/pkg/artifactcache"
	"github.com/kraklabs/forge/pkg/artifactpacker"
	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/eventbus"
	"github.com/kraklabs/forge/pkg/rule"
	"github.com/kraklabs/forge/pkg/rulekey"
)

// kv2JSON marshals v into kv[key], for batching several JSON-valued
// BuildInfo keys into one buildinfo.Store.Update call rather than
// one Update per key.
func kv2JSON(kv map[string]string, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("engine: marshal %s: %w", key, err)
	}
	kv[key] = string(data)
	return nil
}

func copyAll(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}

// runSteps executes a rule's steps strictly in order (spec §5: "Per rule:
// steps 1→2→3→4→5 are strictly sequential; no two of them overlap").
func (e *Engine) runSteps(ctx context.Context, r *rule.Rule, outDir string) error {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("engine: mkdir output dir for %s: %w", r.Target, err)
	}
	e.publish(eventbus.StepStarted, r.Target, "local build starting")
	for i, step := range r.Steps {
		if err := step.Run(ctx, outDir); err != nil {
			e.publish(eventbus.BuildFailed, r.Target, fmt.Sprintf("step %d failed: %v", i, err))
			return fmt.Errorf("engine: step %d of %s: %w", i, r.Target, err)
		}
	}
	e.publish(eventbus.StepDone, r.Target, "local build finished")
	return nil
}

// finalizeLocalBuild is post-build finalization steps 1–7 of spec §4.9 for
// the BuiltLocally route (steps that only apply to a fetched route live in
// adoptFetchedArtifact instead).
func (e *Engine) finalizeLocalBuild(ctx context.Context, target rule.Target, r *rule.Rule, defaultKey rule.Key, metaDir, outDir string) error {
	kv := map[string]string{
		buildinfo.KeyTarget:  string(target),
		buildinfo.KeyRuleKey: defaultKey.String(),
	}

	// Step 2: outputs-have-changed is always true for a fresh local build;
	// run post-build steps and invalidate C1 for every recorded output.
	if r.Capabilities.HasPostBuildSteps() {
		for _, step := range r.Capabilities.PostBuildSteps() {
			if err := step.Run(ctx, outDir); err != nil {
				return fmt.Errorf("engine: post-build step for %s: %w", target, err)
			}
		}
	}
	for _, out := range r.Outputs {
		e.hashes.Invalidate(filepath.Join(outDir, out))
	}
	if err := kv2JSON(kv, buildinfo.KeyRecordedPaths, r.Outputs); err != nil {
		return err
	}

	// A local build also counts as having "produced" the input-based key:
	// record it so a later rebuild whose only change is a NonInput field
	// (or a dependency's implementation, via ABIKey) can match stage 4a's
	// on-disk check directly instead of needing a prior cache fetch to
	// have seeded INPUT_BASED_RULE_KEY.
	if r.Capabilities.SupportsInputBasedRuleKey() {
		if ik, err := e.keys.InputBased(r, e.abiKeyFn); err == nil {
			kv[buildinfo.KeyInputBasedRuleKey] = ik.String()
		}
	}

	var depFileKey rule.Key
	haveDepFileKey := false

	var manifestRemoteKey rule.Key
	haveManifestRemoteKey := false

	// Step 3: dep-file (+ manifest) persistence.
	if r.Capabilities.UsesDepFileRuleKeys() {
		observed := r.Capabilities.InputsAfterBuildingLocally()
		if err := kv2JSON(kv, buildinfo.KeyDepFile, observed); err != nil {
			return err
		}

		key, err := e.keys.DepFileKey(r, observed, false) // not tolerated post-build
		if err != nil {
			if errors.Is(err, rulekey.ErrMissingInput) {
				return fmt.Errorf("%w: %s: %v", ErrMisreportedInput, target, err)
			}
			return fmt.Errorf("engine: dep-file key for %s: %w", target, err)
		}
		depFileKey = key
		haveDepFileKey = true
		kv[buildinfo.KeyDepFileRuleKey] = key.String()

		if e.cfg.DepFiles == DepFilesCache && r.Capabilities.UsesManifestCaching() {
			potential := potentialInputs(r)
			manifestRes, err := e.keys.ManifestKey(r, potential)
			if err != nil {
				return fmt.Errorf("engine: manifest key for %s: %w", target, err)
			}
			kv[buildinfo.KeyManifestKey] = manifestRes.Key.String()

			m := e.manifests.get(ctx, target, metaDir, e.buildInfo, e.cache, manifestRes.Key)
			m.AddEntry(rulekey.ManifestResult{Key: depFileKey, Inputs: manifestRes.Inputs})
			manifestRemoteKey = manifestRes.Key
			haveManifestRemoteKey = true
		}
	}

	// Step 4: hash every output and persist RECORDED_PATH_HASHES, if
	// cacheable and within the configured size limit.
	var pathHashes map[string]string
	if r.Capabilities.IsCacheable() && e.withinSizeLimit(outDir, r.Outputs) {
		pathHashes = make(map[string]string, len(r.Outputs))
		for _, out := range r.Outputs {
			full := filepath.Join(outDir, out)
			h, err := e.hashes.Get(full)
			if err != nil {
				return fmt.Errorf("engine: hash output %s of %s: %w", out, target, err)
			}
			pathHashes[out] = h.String()
		}
		if err := kv2JSON(kv, buildinfo.KeyRecordedPathHashes, pathHashes); err != nil {
			return err
		}
	}

	// Step 6: write metadata in one Update call.
	if err := e.buildInfo.Update(metaDir, kv); err != nil {
		return fmt.Errorf("engine: persist metadata for %s: %w", target, err)
	}
	if haveDepFileKey && haveManifestRemoteKey && e.cfg.DepFiles == DepFilesCache && r.Capabilities.UsesManifestCaching() {
		if err := e.manifests.persist(ctx, target, metaDir, e.buildInfo, e.cache, manifestRemoteKey); err != nil {
			return fmt.Errorf("engine: persist manifest for %s: %w", target, err)
		}
	}

	// Step 7: upload to the artifact cache under every applicable key, in
	// the deterministic order (default, input-based, dep-file) this
	// module picks to resolve the upload-order open question.
	if r.Capabilities.IsCacheable() && e.cache != nil && e.withinSizeLimit(outDir, r.Outputs) {
		keys := []string{defaultKey.String()}
		if r.Capabilities.SupportsInputBasedRuleKey() {
			if ik, err := e.keys.InputBased(r, e.abiKeyFn); err == nil {
				keys = append(keys, ik.String())
			}
		}
		if haveDepFileKey {
			keys = append(keys, depFileKey.String())
		}
		if err := e.uploadArtifact(ctx, r, outDir, keys, pathHashes); err != nil {
			e.log.Warn("artifact upload failed", "target", target, "error", err)
		}
	}

	return nil
}

func (e *Engine) withinSizeLimit(outDir string, outputs []string) bool {
	if e.cfg.ArtifactCacheSizeLimit <= 0 {
		return true
	}
	var total int64
	for _, out := range outputs {
		info, err := os.Stat(filepath.Join(outDir, out))
		if err != nil {
			continue
		}
		total += info.Size()
		if total > e.cfg.ArtifactCacheSizeLimit {
			return false
		}
	}
	return true
}

func (e *Engine) uploadArtifact(ctx context.Context, r *rule.Rule, outDir string, keys []string, pathHashes map[string]string) error {
	f, err := os.CreateTemp(os.TempDir(), fmt.Sprintf("forge-upload-%s-*.zip", sanitizeTarget(r.Target)))
	if err != nil {
		return fmt.Errorf("engine: create upload temp file: %w", err)
	}
	zipPath := f.Name()
	_ = f.Close()
	defer os.Remove(zipPath)

	if err := artifactpacker.Pack(outDir, r.Outputs, zipPath); err != nil {
		return fmt.Errorf("engine: pack outputs for %s: %w", r.Target, err)
	}
	blob, err := os.Open(zipPath) //nolint:gosec // G304: path generated by os.CreateTemp above
	if err != nil {
		return fmt.Errorf("engine: reopen artifact for upload: %w", err)
	}
	defer blob.Close()

	meta := map[string]string{"target": string(r.Target)}
	for p, h := range pathHashes {
		meta["hash:"+p] = h
	}

	errCh := e.cache.Store(ctx, artifactcache.Info{Keys: keys, Metadata: meta}, blob)
	return <-errCh
}

// adoptFetchedArtifact is the shared post-fetch finalization for every
// cache-hit route (stages 2, 4a, 4c): clear prior metadata, unpack, seed
// the hash cache from any verified RECORDED_PATH_HASHES, and persist the
// metadata record for the key variant that actually hit.
func (e *Engine) adoptFetchedArtifact(ctx context.Context, r *rule.Rule, fetchRes artifactcache.Result, metaDir, outDir string, defaultKey, matchedKey rule.Key, kind Kind) error {
	defer fetchRes.Blob.Close()

	tmp, err := os.CreateTemp(os.TempDir(), "forge-fetch-*.zip")
	if err != nil {
		return fmt.Errorf("engine: create fetch temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := copyAll(tmp, fetchRes.Blob); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: write fetched artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: close fetched artifact temp file: %w", err)
	}

	// Before unpacking, clear the rule's prior on-disk metadata so no
	// half-written state is possible (spec §4.5).
	if err := artifactpacker.Unpack(tmpPath, outDir, artifactpacker.OverwriteAndCleanDirectories, metaDir, e.buildInfo); err != nil {
		return fmt.Errorf("engine: unpack fetched artifact for %s: %w", r.Target, err)
	}

	for _, out := range r.Outputs {
		e.hashes.Invalidate(filepath.Join(outDir, out))
	}

	// Step 5: seed C1 with any hashes the producer recorded, if they still
	// verify against what was just unpacked.
	for out, hexHash := range hashesFromMetadata(fetchRes.Metadata) {
		full := filepath.Join(outDir, out)
		if got, err := e.hashes.Get(full); err == nil && got.String() == hexHash {
			e.hashes.Set(full, got)
		}
	}

	kv := map[string]string{
		buildinfo.KeyTarget:  string(r.Target),
		buildinfo.KeyRuleKey: defaultKey.String(),
	}
	if err := kv2JSON(kv, buildinfo.KeyRecordedPaths, r.Outputs); err != nil {
		return err
	}
	switch kind {
	case FetchedFromCacheInputBased:
		kv[buildinfo.KeyInputBasedRuleKey] = matchedKey.String()
	case FetchedFromCacheManifestBased:
		kv[buildinfo.KeyDepFileRuleKey] = matchedKey.String()
	}

	return e.buildInfo.Update(metaDir, kv)
}

func hashesFromMetadata(meta map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range meta {
		if p, ok := trimPrefix(k, "hash:"); ok {
			out[p] = v
		}
	}
	return out
}

func trimPrefix(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):], true
	}
	return "", false
}

func sanitizeTarget(t rule.Target) string {
	out := make([]rune, 0, len(t))
	for _, r := range string(t) {
		if r == '/' || r == ':' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
