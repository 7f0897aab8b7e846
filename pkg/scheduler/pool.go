// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"sync"
)

// ErrCanceled is returned by Run when the pool's first-failure has
// already been latched and KeepGoing is false (spec §4.8: "every
// subsequently admitted task checks and short-circuits to Canceled").
var ErrCanceled = errors.New("scheduler: canceled due to prior failure")

// QueueDiscipline selects how waiters are released when capacity frees up.
type QueueDiscipline int

const (
	// Unfair wakes every waiter on each Release and lets them race to
	// re-check admission; cheap, but a waiter with a large footprint can
	// starve behind a stream of small ones.
	Unfair QueueDiscipline = iota
	// Fair queues waiters that find no room in arrival order and hands
	// each release to the head of that queue. A task whose footprint
	// already fits when it arrives is admitted at once without queueing.
	Fair
)

// Pool is a weighted, bounded-concurrency scheduler (spec §4.8's C8).
type Pool struct {
	limit      Vector
	discipline QueueDiscipline

	mu       sync.Mutex
	cond     *sync.Cond
	used     Vector
	waitQ    []chan struct{} // FIFO order of arrival, used only when Fair

	keepGoing    bool
	failed       bool
	firstFailure error
}

// New creates a Pool admitting tasks up to limit on every resource axis.
func New(limit Vector, discipline QueueDiscipline, keepGoing bool) *Pool {
	p := &Pool{limit: limit, discipline: discipline, keepGoing: keepGoing}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Canceled reports whether the pool's first-failure has latched in a way
// that should short-circuit further admission (keep-going is false and a
// task has already failed).
func (p *Pool) Canceled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed && !p.keepGoing
}

// FirstFailure returns the error that triggered cancellation, if any.
func (p *Pool) FirstFailure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstFailure
}

// ReportFailure latches the pool's first-failure state. Only the first
// call has any effect; later calls are no-ops so the recorded error is
// always the actual first one.
func (p *Pool) ReportFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.failed {
		p.failed = true
		p.firstFailure = err
	}
	p.cond.Broadcast() // wake waiters so they can re-check Canceled
}

// Run blocks until the pool admits a task of the given footprint, then
// runs fn and releases the footprint afterward regardless of fn's result.
// It never blocks an already-admitted task on the admission of any other
// task — the only blocking is the caller's own wait for its own slot
// (spec §4.8: "never block an admitted task on admission of its
// subtasks").
func (p *Pool) Run(ctx context.Context, weight Vector, fn func(ctx context.Context) error) error {
	if p.Canceled() {
		return ErrCanceled
	}

	if err := p.acquire(ctx, weight); err != nil {
		return err
	}
	defer p.release(weight)

	if p.Canceled() {
		return ErrCanceled
	}

	err := fn(ctx)
	if err != nil && !p.keepGoing {
		p.ReportFailure(err)
	}
	return err
}

func (p *Pool) acquire(ctx context.Context, weight Vector) error {
	// sync.Cond.Wait only wakes on Signal/Broadcast, not ctx cancellation;
	// without this, a pool stuck waiting on capacity that never frees up
	// would ignore the caller's context entirely.
	stop := context.AfterFunc(ctx, p.cond.Broadcast)
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for !weight.Fits(p.used, p.limit) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.failed && !p.keepGoing {
			return ErrCanceled
		}

		if p.discipline == Fair {
			turn := make(chan struct{})
			p.waitQ = append(p.waitQ, turn)
			p.mu.Unlock()
			select {
			case <-turn:
			case <-ctx.Done():
				p.mu.Lock()
				return ctx.Err()
			}
			p.mu.Lock()
			continue
		}

		p.cond.Wait()
	}

	p.used = p.used.add(weight)
	return nil
}

func (p *Pool) release(weight Vector) {
	p.mu.Lock()
	p.used = p.used.sub(weight)
	var next chan struct{}
	if p.discipline == Fair && len(p.waitQ) > 0 {
		next = p.waitQ[0]
		p.waitQ = p.waitQ[1:]
	}
	p.mu.Unlock()

	if next != nil {
		close(next)
	}
	p.cond.Broadcast()
}
