// Package sched executes batches of independent work units (encrypt one
// embedding, compute one distance) under a resource budget.
//
// Units are partitioned into chunks of at most BatchSizeLimit; within a chunk
// up to MaxWorkers run concurrently. Results are always returned in input
// order with per-slot errors: one failing unit never aborts the batch. When
// an accelerated backend is configured and the batch fits its memory budget,
// chunks are tried there first; a backend failure is recoverable and demotes
// the remaining work to the default pool.
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/biomatch/biomatch-go/pkg/biomatch"
	"github.com/biomatch/biomatch-go/pkg/biomatch/logging"
)

// Result is the outcome of one unit, positionally aligned with the input.
type Result[T any] struct {
	Value T
	Err   error
}

// Stats describes how a batch ran.
type Stats struct {
	Backend   string        // backend that ran the final chunk
	Units     int           // total units submitted
	Chunks    int           // chunks dispatched
	Fallbacks int           // accelerated chunks redone on the default pool
	Duration  time.Duration // wall time for the whole batch
}

// Config carries the scheduler's resource knobs, usually derived from
// biomatch.Config.
type Config struct {
	// BatchSizeLimit caps units per chunk. The aggregator waits for a whole
	// chunk before starting the next one, bounding peak concurrent state to
	// one chunk's worth.
	BatchSizeLimit int

	// MaxWorkers bounds concurrent workers within a chunk.
	MaxWorkers int

	// MemoryBudget is the abstract cost available to the accelerated
	// backend. Batches estimated above it run on the default pool.
	MemoryBudget int64

	// UnitCost is the abstract cost of a single unit. Zero selects a
	// conservative default.
	UnitCost int64
}

// FromConfig derives scheduler configuration from the protocol configuration.
func FromConfig(cfg biomatch.Config) Config {
	return Config{
		BatchSizeLimit: cfg.BatchSizeLimit,
		MaxWorkers:     cfg.MaxWorkers,
		MemoryBudget:   cfg.MemoryBudgetMB,
	}
}

// defaultUnitCost approximates the footprint of one ciphertext operation,
// in the same abstract units as Config.MemoryBudget.
const defaultUnitCost = 2

// Scheduler dispatches batches. Safe for concurrent use.
type Scheduler struct {
	cfg Config
	def Backend
	acc Backend
	log logging.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithAccelerator installs an accelerated backend tried ahead of the default
// pool.
func WithAccelerator(b Backend) Option {
	return func(s *Scheduler) { s.acc = b }
}

// WithLogger sets the logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// New builds a Scheduler. Zero or negative limits fall back to serial,
// single-chunk execution.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.BatchSizeLimit < 1 {
		cfg.BatchSizeLimit = 1
	}
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.UnitCost < 1 {
		cfg.UnitCost = defaultUnitCost
	}
	s := &Scheduler{
		cfg: cfg,
		def: NewPool(cfg.MaxWorkers),
		log: logging.New(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EstimateCost returns the abstract cost of running n units. Monotonic in n.
func (s *Scheduler) EstimateCost(n int) int64 {
	return int64(n) * s.cfg.UnitCost
}

// Run executes fn over every unit and returns one Result per unit, in input
// order regardless of completion order.
//
// Cancellation is coarse: a cancelled context stops new chunks from being
// scheduled, but a chunk already dispatched runs to completion. Slots never
// started are marked with the context error, which is also returned.
func Run[In, Out any](ctx context.Context, s *Scheduler, units []In, fn func(context.Context, In) (Out, error)) ([]Result[Out], Stats, error) {
	start := time.Now()
	results := make([]Result[Out], len(units))

	useAcc := s.acc != nil && s.acc.Available() && s.EstimateCost(len(units)) <= s.cfg.MemoryBudget
	backend := s.def
	if useAcc {
		backend = s.acc
	}

	stats := Stats{Backend: backend.Name(), Units: len(units)}

	for base := 0; base < len(units); base += s.cfg.BatchSizeLimit {
		if err := ctx.Err(); err != nil {
			for i := base; i < len(units); i++ {
				results[i].Err = err
			}
			stats.Duration = time.Since(start)
			return results, stats, err
		}

		end := base + s.cfg.BatchSizeLimit
		if end > len(units) {
			end = len(units)
		}
		chunk := units[base:end]
		stats.Chunks++

		do := func(i int) {
			out, err := fn(ctx, chunk[i])
			results[base+i] = Result[Out]{Value: out, Err: err}
		}

		err := backend.Dispatch(ctx, len(chunk), do)
		if err != nil && useAcc {
			// Recoverable: demote this and all remaining chunks to the
			// default pool.
			s.log.Warn(ctx, "accelerated backend failed, falling back to worker pool",
				"backend", backend.Name(), "error", err, "chunk", stats.Chunks)
			useAcc = false
			backend = s.def
			stats.Fallbacks++
			stats.Backend = backend.Name()
			err = backend.Dispatch(ctx, len(chunk), do)
		}
		if err != nil {
			// Default backend refused the chunk; report it per slot and keep
			// going so later chunks still run.
			wrapped := err
			if !errors.Is(err, biomatch.ErrAcceleratorFailure) {
				wrapped = biomatch.E("sched.Run", err)
			}
			for i := base; i < end; i++ {
				results[i].Err = wrapped
			}
		}
	}

	stats.Duration = time.Since(start)
	return results, stats, nil
}
