// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/rule"
	"github.com/kraklabs/forge/pkg/rulekey"
)

// onDiskKeyMatches reports whether metaDir's stored value for keyName
// equals key AND every path in RECORDED_PATHS still exists under outDir —
// spec §1's route (a), "reusing existing on-disk outputs proven
// identical", requires both: a stale metadata record whose outputs were
// since deleted must not be treated as a match.
func (e *Engine) onDiskKeyMatches(metaDir, outDir, keyName string, key rule.Key) bool {
	stored, ok := e.buildInfo.Read(metaDir, keyName)
	if !ok {
		return false
	}
	storedKey, ok := rule.KeyFromHex(stored)
	if !ok || storedKey != key {
		return false
	}

	var paths []string
	if ok, err := e.buildInfo.ReadJSON(metaDir, buildinfo.KeyRecordedPaths, &paths); err != nil || !ok {
		return false
	}
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(outDir, p)); err != nil {
			return false
		}
	}
	return true
}

// tryPartialCache implements stages 4a (input-based), 4b (dep-file), and
// 4c (manifest-based), in that order, returning the first one that
// produces a terminal success. ok is false if none of the three applies
// or hits, meaning the engine must fall through to stage 5.
func (e *Engine) tryPartialCache(ctx context.Context, r *rule.Rule, metaDir, outDir string, defaultKey rule.Key) (Result, bool) {
	target := r.Target

	// 4a: input-based.
	if r.Capabilities.SupportsInputBasedRuleKey() {
		var inputKey rule.Key
		runErr := e.pool.Run(ctx, keyComputeWeight, func(context.Context) error {
			var err error
			inputKey, err = e.keys.InputBased(r, e.abiKeyFn)
			return err
		})
		switch {
		case runErr == nil:
			if e.onDiskKeyMatches(metaDir, outDir, buildinfo.KeyInputBasedRuleKey, inputKey) {
				return Result{Target: target, Status: StatusSuccess, Kind: MatchingInputBasedRuleKey}, true
			}
			if e.cache != nil {
				if hit, fetchRes, err := e.fetchFromCache(ctx, inputKey); err == nil && hit {
					if err := e.adoptFetchedArtifact(ctx, r, fetchRes, metaDir, outDir, defaultKey, inputKey, FetchedFromCacheInputBased); err == nil {
						return Result{Target: target, Status: StatusSuccess, Kind: FetchedFromCacheInputBased}, true
					}
				}
			}
		case errors.Is(runErr, rulekey.ErrSizeLimitExceeded):
			// Skip 4a entirely, per spec §4.9 edge cases.
		default:
			return Result{Target: target, Status: StatusFailure, Err: runErr}, true
		}
	}

	// 4b: dep-file.
	if e.cfg.DepFiles != DepFilesDisabled && r.Capabilities.UsesDepFileRuleKeys() {
		var prior []rule.InputDescriptor
		if ok, err := e.buildInfo.ReadJSON(metaDir, buildinfo.KeyDepFile, &prior); err == nil && ok {
			var depFileKey rule.Key
			runErr := e.pool.Run(ctx, keyComputeWeight, func(context.Context) error {
				var err error
				depFileKey, err = e.keys.DepFileKey(r, prior, true) // tolerated at pre-build lookup
				return err
			})
			if runErr == nil && e.onDiskKeyMatches(metaDir, outDir, buildinfo.KeyDepFileRuleKey, depFileKey) {
				return Result{Target: target, Status: StatusSuccess, Kind: MatchingDepFileRuleKey}, true
			}
		}
	}

	// 4c: manifest.
	if e.cfg.DepFiles == DepFilesCache && r.Capabilities.UsesManifestCaching() && e.cache != nil {
		potential := potentialInputs(r)
		var manifestRes rulekey.ManifestResult
		runErr := e.pool.Run(ctx, keyComputeWeight, func(context.Context) error {
			var err error
			manifestRes, err = e.keys.ManifestKey(r, potential)
			return err
		})
		if runErr == nil {
			m := e.manifests.get(ctx, target, metaDir, e.buildInfo, e.cache, manifestRes.Key)
			if key, ok := m.Lookup(e.hashes.Get); ok {
				if hit, fetchRes, err := e.fetchFromCache(ctx, key); err == nil && hit {
					if err := e.adoptFetchedArtifact(ctx, r, fetchRes, metaDir, outDir, defaultKey, key, FetchedFromCacheManifestBased); err == nil {
						return Result{Target: target, Status: StatusSuccess, Kind: FetchedFromCacheManifestBased}, true
					}
				}
			}
		}
	}

	return Result{}, false
}

// potentialInputs is the engine's over-approximated candidate universe
// fed to ManifestKey: the rule's declared sources (entries of a prior
// dep-file are not added), restricted by the rule's own
// CoveredByDepFile predicate inside rulekey.Factory.ManifestKey itself.
// Rule-graph-level path enumeration (e.g. "every header transitively
// reachable from an include root") is an external collaborator concern
// per spec §1; this is the subset the engine can see without it.
func potentialInputs(r *rule.Rule) []string {
	return append([]string(nil), r.Sources...)
}

// abiKeyFn resolves a dependency's ABI key for input-based key
// computation of its dependents (spec §4.2, §6).
func (e *Engine) abiKeyFn(dep rule.Target) (rule.Key, bool) {
	r, ok := e.rules[dep]
	if !ok {
		return rule.Key{}, false
	}
	return r.Capabilities.ABIKey()
}
