// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/forge/pkg/artifactcache"
	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/eventbus"
	"github.com/kraklabs/forge/pkg/rule"
	"github.com/kraklabs/forge/pkg/scheduler"
)

// runProtocol executes the four-stage cache protocol for target (spec
// §4.9's state diagram), returning its terminal Result.
func (e *Engine) runProtocol(ctx context.Context, target rule.Target) Result {
	r := e.rules[target]
	metaDir := r.MetadataDir(e.cfg.BuckOut)
	outDir := r.OutDir(e.cfg.BuckOut)

	var defaultKey rule.Key
	if err := e.pool.Run(ctx, keyComputeWeight, func(ctx context.Context) error {
		var err error
		defaultKey, err = e.computeDefaultKey(ctx, target)
		return err
	}); err != nil {
		return poolErrToResult(target, err)
	}

	// Stage 1: DefaultKey matches on-disk?
	if e.cfg.RuleKeyCaching && e.onDiskKeyMatches(metaDir, outDir, buildinfo.KeyRuleKey, defaultKey) {
		e.publish(eventbus.CacheResult, target, "matching-rule-key")
		return Result{Target: target, Status: StatusSuccess, Kind: MatchingRuleKey}
	}

	// Stage 2: default-key cache fetch.
	if e.cache != nil && r.Capabilities.IsCacheable() {
		hit, fetchRes, err := e.fetchFromCache(ctx, defaultKey)
		if err != nil {
			return Result{Target: target, Status: StatusFailure, Err: err}
		}
		if hit {
			if err := e.adoptFetchedArtifact(ctx, r, fetchRes, metaDir, outDir, defaultKey, defaultKey, FetchedFromCache); err != nil {
				return Result{Target: target, Status: StatusFailure, Err: err}
			}
			return Result{Target: target, Status: StatusSuccess, Kind: FetchedFromCache}
		}
	}

	// Stage 3: build all deps.
	depFailures, failErr, cancelReason := e.buildDeps(ctx, r)
	if cancelReason != "" {
		return canceledResult(target, cancelReason)
	}
	if failErr != nil {
		return Result{Target: target, Status: StatusFailure, Err: failErr, DepFailures: depFailures}
	}

	// Stages 4a/4b/4c: partial-information cache routes.
	if res, ok := e.tryPartialCache(ctx, r, metaDir, outDir, defaultKey); ok {
		res.DepFailures = depFailures
		return res
	}

	// Stage 5: execute locally.
	if e.cfg.BuildMode == PopulateFromRemoteCache {
		return Result{Target: target, Status: StatusFailure, Err: ErrPopulateOnlyDisabledLocal, DepFailures: depFailures}
	}

	err := e.pool.Run(ctx, stepWeight, func(ctx context.Context) error {
		return e.runSteps(ctx, r, outDir)
	})
	if err != nil {
		_ = e.buildInfo.Delete(metaDir) // best-effort cleanup, spec §7
		return Result{Target: target, Status: StatusFailure, Err: err, DepFailures: depFailures}
	}

	if err := e.finalizeLocalBuild(ctx, target, r, defaultKey, metaDir, outDir); err != nil {
		return Result{Target: target, Status: StatusFailure, Err: err, DepFailures: depFailures}
	}
	return Result{Target: target, Status: StatusSuccess, Kind: BuiltLocally, DepFailures: depFailures}
}

// buildDeps implements stage 3: wait on every dep concurrently (they were
// already kicked off independently via e.ensureStarted, so waiting
// sequentially would only add latency without changing outcomes) and
// decide whether the target must cancel, fail, or may proceed. A failing
// dep cancels the shared wait context so siblings still in flight unwind
// promptly when cfg.KeepGoing is false.
func (e *Engine) buildDeps(ctx context.Context, r *rule.Rule) (depFailures []rule.Target, failErr error, cancelReason string) {
	deps := shuffledDeps(r.Deps)
	if len(deps) == 0 {
		return nil, nil, ""
	}

	depCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		waitErr string
	)

	g, gctx := errgroup.WithContext(depCtx)
	for _, dep := range deps {
		g.Go(func() error {
			res, err := e.resultOf(gctx, dep)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if waitErr == "" {
					waitErr = fmt.Sprintf("waiting on dependency %s: %v", dep, err)
				}
				return nil
			}
			if res.Status == StatusSuccess {
				return nil
			}

			depFailures = append(depFailures, dep)
			if failErr == nil {
				failErr = fmt.Errorf("dependency %s did not build: status=%v err=%v", dep, res.Status, res.Err)
			}
			if !e.cfg.KeepGoing {
				if cancelReason == "" {
					cancelReason = fmt.Sprintf("dependency %s failed", dep)
				}
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait() // errors are surfaced via waitErr/failErr above, not the group's own return

	if waitErr != "" {
		return nil, nil, waitErr
	}
	if !e.cfg.KeepGoing && failErr != nil {
		return depFailures, nil, cancelReason
	}
	if failErr != nil {
		return depFailures, failErr, ""
	}
	return nil, nil, ""
}

// poolErrToResult converts a scheduler admission error into the matching
// terminal Result: ErrCanceled and context cancellation both mean the
// rule never got to run, ctx.Err() vs ErrCanceled are the only two things
// Pool.Run ever returns besides fn's own error.
func poolErrToResult(target rule.Target, err error) Result {
	if errors.Is(err, scheduler.ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return canceledResult(target, err.Error())
	}
	return Result{Target: target, Status: StatusFailure, Err: err}
}

func (e *Engine) fetchFromCache(ctx context.Context, key rule.Key) (hit bool, res artifactcache.Result, err error) {
	runErr := e.pool.Run(ctx, cacheOpWeight, func(ctx context.Context) error {
		res = e.cache.Fetch(ctx, key.String())
		return nil
	})
	if runErr != nil {
		return false, artifactcache.Result{}, runErr
	}
	switch res.Status {
	case artifactcache.Hit:
		return true, res, nil
	case artifactcache.Error:
		// CacheTransient (spec §7): demoted to Miss, logged, never fatal.
		e.log.Warn("cache fetch failed, demoting to miss", "key", key.String(), "error", res.Err)
		return false, artifactcache.Result{}, nil
	default:
		return false, artifactcache.Result{}, nil
	}
}
