// Package worker provides a bounded dispatch pool for blocking vendor
// calls, so camera fan-out cannot exhaust sockets or goroutine budget.
package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool gates concurrent vendor I/O behind a weighted semaphore. Acquire
// respects the caller's context, so a caller-imposed timeout also bounds
// the time spent waiting for a slot.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool allowing up to size concurrent calls.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 8
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. It returns the context error if the
// caller gives up before a slot opens, otherwise fn's result.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
