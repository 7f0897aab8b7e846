// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package deptracker

import (
	"context"
	"fmt"

	"github.com/kraklabs/forge/pkg/rule"
)

// DepTracker wraps a Tracker[T] of build results with the runtime-dep
// propagation rule from spec §4.7: a rule's externally visible result is
// not just its own Future resolving, it's that plus every runtime
// dependency's result also having resolved successfully.
//
// T is the engine's BuildResult type; DepTracker only needs to know how to
// ask a T for its runtime deps and whether it counts as success, so it
// stays free of any dependency on the engine package (avoiding an import
// cycle, since the engine is DepTracker's own caller).
type DepTracker[T any] struct {
	results *Tracker[T]

	runtimeDepsOf func(T) []rule.Target
	isSuccess     func(T) bool
	canceled      func(target rule.Target, reason string) T
	ensureStarted func(ctx context.Context, target rule.Target)
}

// NewDepTracker wraps a result Tracker with the hooks needed for runtime-dep aware
// waiting. runtimeDepsOf extracts the runtime deps a resolved result
// declares; isSuccess reports whether a result counts as a successful
// build; canceled builds the sentinel value used when a runtime dep
// failed and propagation must short-circuit this rule too; ensureStarted
// (may be nil) demands a runtime dep's own build before waiting on it —
// without this, a runtime dep that is not also a structural Deps entry
// was never independently demanded anywhere, so GetOrCreate would hand
// back a Future nobody is ever going to resolve and the wait below would
// block until ctx is canceled.
func NewDepTracker[T any](
	results *Tracker[T],
	runtimeDepsOf func(T) []rule.Target,
	isSuccess func(T) bool,
	canceled func(target rule.Target, reason string) T,
	ensureStarted func(ctx context.Context, target rule.Target),
) *DepTracker[T] {
	return &DepTracker[T]{
		results:       results,
		runtimeDepsOf: runtimeDepsOf,
		isSuccess:     isSuccess,
		canceled:      canceled,
		ensureStarted: ensureStarted,
	}
}

// Results exposes the underlying Tracker so the engine can GetOrCreate its
// own build-result futures directly.
func (d *DepTracker[T]) Results() *Tracker[T] { return d.results }

// GetResultWithRuntimeDeps returns target's result only after (a) its own
// future resolves and (b) every runtime dep named by that result has also
// resolved successfully. If any runtime dep fails or is itself canceled,
// cancellation propagates: the returned value is the tracker's configured
// canceled sentinel rather than target's own (possibly successful) result,
// because a runtime dep failing means the rule cannot actually be used
// even though its own build succeeded.
func (d *DepTracker[T]) GetResultWithRuntimeDeps(ctx context.Context, target rule.Target) (T, error) {
	fut, _ := d.results.GetOrCreate(target)
	own, err := fut.Get(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	for _, dep := range d.runtimeDepsOf(own) {
		if d.ensureStarted != nil {
			d.ensureStarted(ctx, dep)
		}
		depFut, _ := d.results.GetOrCreate(dep)
		depResult, err := depFut.Get(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		if !d.isSuccess(depResult) {
			return d.canceled(target, fmt.Sprintf("runtime dependency %s failed", dep)), nil
		}
	}

	return own, nil
}
