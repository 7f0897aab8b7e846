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

// Package engine is the BuildEngine (C9): it orchestrates the four-stage
// cache protocol of spec §4.9 over a rule graph, composing every other
// component (C1–C8) to decide, for each rule, whether it can be reused
// on-disk, fetched from cache under one of four key variants, or must be
// built locally.
//
// The phased-orchestrator shape — a logger threaded through every stage,
// a ProgressCallback-equivalent (here eventbus.Bus) fired at phase
// boundaries, and explicit Config for mode selection — is grounded on the
// teacher's own ingestion.LocalPipeline, generalized from a fixed
// multi-phase ingestion pipeline to a per-rule recursive state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/kraklabs/forge/pkg/artifactcache"
	"github.com/kraklabs/forge/pkg/buildinfo"
	"github.com/kraklabs/forge/pkg/deptracker"
	"github.com/kraklabs/forge/pkg/eventbus"
	"github.com/kraklabs/forge/pkg/hashcache"
	"github.com/kraklabs/forge/pkg/manifest"
	"github.com/kraklabs/forge/pkg/rule"
	"github.com/kraklabs/forge/pkg/rulekey"
	"github.com/kraklabs/forge/pkg/scheduler"
)

// Phase resource weights. Rule-declared per-step resource vectors are an
// external (rule-graph) concern per spec §1; these fixed weights still
// give the scheduler three independently throttleable phases, matching
// spec §5's "the engine assigns distinct resource vectors per phase
// (cache-check is network/disk, key-computation is cpu, step execution is
// rule-declared)".
var (
	keyComputeWeight = scheduler.Vector{CPU: 1}
	cacheOpWeight    = scheduler.Vector{DiskIO: 1, NetworkIO: 1}
	stepWeight       = scheduler.Vector{CPU: 2, Memory: 2}
)

// Engine implements C9 over a fixed rule graph.
type Engine struct {
	rules map[rule.Target]*rule.Rule
	cfg   Config
	log   *slog.Logger

	hashes    *hashcache.Cache
	keys      *rulekey.Factory
	buildInfo *buildinfo.Store
	cache     artifactcache.Cache
	pool      *scheduler.Pool
	bus       *eventbus.Bus

	tracker *deptracker.Tracker[Result]
	deps    *deptracker.DepTracker[Result]

	defaultKeys *deptracker.Tracker[rule.Key]

	manifests *manifestRegistry
}

// New creates an Engine over the given rule graph. cache may be nil, in
// which case every rule behaves as though Capabilities.IsCacheable()
// returns false regardless of its own declaration (stages 2, 4a's cache
// branch, and 4c are skipped; on-disk matches and local builds still
// work).
func New(rules map[rule.Target]*rule.Rule, cache artifactcache.Cache, cfg Config, bus *eventbus.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New(64)
	}

	hashes := hashcache.New(1)
	e := &Engine{
		rules:       rules,
		cfg:         cfg,
		log:         logger,
		hashes:      hashes,
		keys:        rulekey.NewFactory(hashes, cfg.KeySeed, cfg.RuleKeySizeLimit),
		buildInfo:   buildinfo.New(),
		cache:       cache,
		pool:        scheduler.New(cfg.ResourceLimit, cfg.QueueDiscipline, cfg.KeepGoing),
		bus:         bus,
		tracker:     deptracker.New[Result](),
		defaultKeys: deptracker.New[rule.Key](),
		manifests:   newManifestRegistry(cfg.MaxDepFileCacheEntries),
	}
	e.deps = deptracker.NewDepTracker[Result](
		e.tracker,
		func(r Result) []rule.Target {
			rl, ok := e.rules[r.Target]
			if !ok || !rl.Capabilities.HasRuntimeDeps() {
				return nil
			}
			return rl.Capabilities.RuntimeDeps()
		},
		IsSuccess,
		canceledResult,
		e.ensureStarted,
	)
	return e
}

// Build demands target's result, starting its computation if this is the
// first demand, and returns once it (and its runtime deps) resolve or ctx
// is canceled.
func (e *Engine) Build(ctx context.Context, target rule.Target) (Result, error) {
	if _, ok := e.rules[target]; !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	e.ensureStarted(ctx, target)
	return e.deps.GetResultWithRuntimeDeps(ctx, target)
}

// ensureStarted launches target's computation exactly once across the
// Engine's lifetime — the memoization guarantee of spec §3's "A rule's
// BuildResult future is created on first demand ... and never recomputed".
func (e *Engine) ensureStarted(ctx context.Context, target rule.Target) {
	fut, created := e.tracker.GetOrCreate(target)
	if !created {
		return
	}
	go func() {
		fut.Resolve(e.runProtocol(ctx, target))
	}()
}

// resultOf is the internal building block stage 3 uses to recurse into a
// dependency: ensure it has been demanded, then wait for its externally
// visible (runtime-dep-aware) result.
func (e *Engine) resultOf(ctx context.Context, target rule.Target) (Result, error) {
	e.ensureStarted(ctx, target)
	return e.deps.GetResultWithRuntimeDeps(ctx, target)
}

// computeDefaultKey resolves target's default key, recursing into its
// deps' own default keys first and memoizing every result — this is a
// pure function of the rule graph and current file contents, computed
// independently of (and prior to) any actual building, matching spec
// §4.9 stage 1's need for a default key before deps are ever built.
//
// When another goroutine is already computing target's key (created ==
// false, the ordinary diamond-dependency shape), this blocks on that
// goroutine's Future rather than peeking it: a non-blocking peek of an
// unresolved Future silently folds a zero Key into the caller's own
// sponge, producing a wrong, non-deterministic default key.
func (e *Engine) computeDefaultKey(ctx context.Context, target rule.Target) (rule.Key, error) {
	fut, created := e.defaultKeys.GetOrCreate(target)
	if !created {
		return fut.Get(ctx)
	}

	r := e.rules[target]
	var depErr error
	depKey := func(dep rule.Target) (rule.Key, bool) {
		if _, ok := e.rules[dep]; !ok {
			return rule.Key{}, false
		}
		k, err := e.computeDefaultKey(ctx, dep)
		if err != nil {
			depErr = err
			return rule.Key{}, false
		}
		return k, true
	}
	k := e.keys.Default(r, depKey)
	fut.Resolve(k)
	if depErr != nil {
		return rule.Key{}, depErr
	}
	return k, nil
}

// shuffledDeps returns r.Deps in randomized order, spreading contention
// across targets that share subsystems (spec §4.9: "the engine builds
// deps in shuffled order").
func shuffledDeps(deps []rule.Target) []rule.Target {
	out := append([]rule.Target(nil), deps...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (e *Engine) publish(kind eventbus.Kind, target rule.Target, message string) {
	e.bus.Publish(eventbus.Event{Kind: kind, Target: string(target), Message: message, Timestamp: time.Now()})
}
