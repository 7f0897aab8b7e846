// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package deptracker

import (
	"sync"

	"github.com/kraklabs/forge/pkg/rule"
)

// Tracker memoizes rule → Future<T> for any result type T. The engine
// instantiates one Tracker[Result] for build results (C7's
// rule → Future<BuildResult>) and one Tracker[rule.Key] for memoized
// default rule keys.
type Tracker[T any] struct {
	mu      sync.Mutex
	futures map[rule.Target]*Future[T]
}

// New creates an empty Tracker.
func New[T any]() *Tracker[T] {
	return &Tracker[T]{futures: make(map[rule.Target]*Future[T])}
}

// GetOrCreate returns the Future for target, creating it if absent. The
// boolean return is true exactly when this call created the entry — that
// caller, and only that caller, is responsible for eventually calling
// Resolve on the returned Future. The map lock is held only long enough to
// install the entry, never across the caller's actual computation, so
// concurrent demand for distinct targets never serializes on this lock.
func (t *Tracker[T]) GetOrCreate(target rule.Target) (fut *Future[T], created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.futures[target]; ok {
		return existing, false
	}
	fut = NewFuture[T]()
	t.futures[target] = fut
	return fut, true
}

// Peek returns the Future for target without creating one, or nil if no
// build has been demanded for it yet.
func (t *Tracker[T]) Peek(target rule.Target) *Future[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.futures[target]
}
