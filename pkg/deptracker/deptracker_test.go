// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package deptracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/forge/pkg/rule"
)

type fakeResult struct {
	target      rule.Target
	success     bool
	runtimeDeps []rule.Target
	canceled    bool
	reason      string
}

func newFakeTracker() *DepTracker[fakeResult] {
	tr := New[fakeResult]()
	return NewDepTracker(
		tr,
		func(r fakeResult) []rule.Target { return r.runtimeDeps },
		func(r fakeResult) bool { return r.success },
		func(target rule.Target, reason string) fakeResult {
			return fakeResult{target: target, canceled: true, reason: reason}
		},
		nil,
	)
}

func TestGetOrCreateSecondCallerDoesNotCreate(t *testing.T) {
	tr := New[fakeResult]()
	_, created1 := tr.GetOrCreate("//:a")
	_, created2 := tr.GetOrCreate("//:a")
	require.True(t, created1)
	require.False(t, created2)
}

func TestFutureBlocksUntilResolved(t *testing.T) {
	f := NewFuture[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	var got int
	go func() {
		defer wg.Done()
		v, err := f.Get(context.Background())
		require.NoError(t, err)
		got = v
	}()

	time.Sleep(10 * time.Millisecond)
	f.Resolve(42)
	wg.Wait()
	require.Equal(t, 42, got)
}

func TestGetResultWithRuntimeDepsWaitsForSuccessfulDeps(t *testing.T) {
	d := newFakeTracker()

	fut, _ := d.Results().GetOrCreate("//:lib")
	fut.Resolve(fakeResult{target: "//:lib", success: true, runtimeDeps: []rule.Target{"//:plugin"}})

	depFut, _ := d.Results().GetOrCreate("//:plugin")
	depFut.Resolve(fakeResult{target: "//:plugin", success: true})

	res, err := d.GetResultWithRuntimeDeps(context.Background(), "//:lib")
	require.NoError(t, err)
	require.True(t, res.success)
	require.False(t, res.canceled)
}

func TestGetResultWithRuntimeDepsPropagatesCancellationOnDepFailure(t *testing.T) {
	d := newFakeTracker()

	fut, _ := d.Results().GetOrCreate("//:lib")
	fut.Resolve(fakeResult{target: "//:lib", success: true, runtimeDeps: []rule.Target{"//:plugin"}})

	depFut, _ := d.Results().GetOrCreate("//:plugin")
	depFut.Resolve(fakeResult{target: "//:plugin", success: false})

	res, err := d.GetResultWithRuntimeDeps(context.Background(), "//:lib")
	require.NoError(t, err)
	require.True(t, res.canceled)
}

func TestGetResultWithRuntimeDepsStartsUndemandedRuntimeDep(t *testing.T) {
	tr := New[fakeResult]()
	var started []rule.Target
	var mu sync.Mutex
	d := NewDepTracker(
		tr,
		func(r fakeResult) []rule.Target { return r.runtimeDeps },
		func(r fakeResult) bool { return r.success },
		func(target rule.Target, reason string) fakeResult {
			return fakeResult{target: target, canceled: true, reason: reason}
		},
		func(ctx context.Context, target rule.Target) {
			mu.Lock()
			started = append(started, target)
			mu.Unlock()
			// Stand in for the engine's own ensureStarted: the plugin was
			// never independently demanded, so nothing else will ever
			// resolve its future.
			fut, created := tr.GetOrCreate(target)
			if created {
				fut.Resolve(fakeResult{target: target, success: true})
			}
		},
	)

	fut, _ := d.Results().GetOrCreate("//:lib")
	fut.Resolve(fakeResult{target: "//:lib", success: true, runtimeDeps: []rule.Target{"//:plugin"}})

	res, err := d.GetResultWithRuntimeDeps(context.Background(), "//:lib")
	require.NoError(t, err)
	require.True(t, res.success)
	require.Equal(t, []rule.Target{"//:plugin"}, started)
}

func TestGetResultWithRuntimeDepsPropagatesContextCancellation(t *testing.T) {
	d := newFakeTracker()
	d.Results().GetOrCreate("//:lib") // never resolved

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.GetResultWithRuntimeDeps(ctx, "//:lib")
	require.Error(t, err)
}
