package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Runner executes sweeps on a fixed interval until its context is
// cancelled. Each sweep gets a deadline of one interval so a hung sweep
// cannot delay the next tick indefinitely.
type Runner struct {
	scheduler *Scheduler
	interval  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	ready     atomic.Bool
}

// NewRunner creates a Runner; interval must be positive.
func NewRunner(scheduler *Scheduler, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Runner {
	return &Runner{
		scheduler: scheduler,
		interval:  interval,
		clock:     clock,
		logger:    logger,
	}
}

// Ready reports whether the runner has completed at least one sweep
// attempt; the HTTP readiness probe consumes this.
func (r *Runner) Ready() bool {
	return r.ready.Load()
}

// Run performs an immediate sweep, then one per interval. It returns when
// ctx is cancelled. Sweep errors are logged, never fatal: the next tick
// retries from scratch.
func (r *Runner) Run(ctx context.Context) {
	r.sweep(ctx)
	r.ready.Store(true)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping", "reason", ctx.Err())
			return
		case <-ticker.Chan():
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	if err := r.scheduler.RunSweep(sweepCtx); err != nil {
		r.logger.Error("sweep failed", "error", err)
	}
}
