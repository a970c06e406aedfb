package sched

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Backend is the execution strategy for one chunk of work.
//
// Dispatch runs do(0) through do(n-1) with backend-chosen concurrency and
// returns only backend-level failures (resource acquisition, device errors);
// per-unit outcomes are recorded by the do closure itself. Implementations
// must release any scoped resources before returning, even on failure, so
// repeated calls cannot exhaust a shared device.
type Backend interface {
	// Name identifies the backend in logs and stats.
	Name() string

	// Available reports whether the backend can currently accept work.
	Available() bool

	// Dispatch executes one chunk.
	Dispatch(ctx context.Context, n int, do func(i int)) error
}

// Pool is the default backend: a bounded worker pool on ordinary goroutines.
// It is always available and never fails at the backend level.
type Pool struct {
	workers int64
	sem     *semaphore.Weighted
}

// NewPool returns a pool backend bounded to the given worker count.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: int64(workers), sem: semaphore.NewWeighted(int64(workers))}
}

func (p *Pool) Name() string { return "pool" }

func (p *Pool) Available() bool { return true }

// Dispatch runs all n units, at most `workers` at a time, and waits for the
// whole chunk. A cancelled context does not interrupt units already running;
// the chunk runs to completion.
func (p *Pool) Dispatch(ctx context.Context, n int, do func(i int)) error {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		// Acquire with a background context: once a chunk is dispatched it
		// completes, cancellation only gates future chunks.
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer p.sem.Release(1)
			do(i)
		}(i)
	}
	wg.Wait()
	return nil
}
