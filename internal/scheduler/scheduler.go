// Package scheduler provides the "every N seconds, run task" capability used
// to drive the rollover cycle. Cycles never overlap: the task runs
// synchronously in the loop, and a manual trigger is refused while a cycle is
// in flight.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context)

// Runner invokes a task on a fixed period.
type Runner struct {
	interval time.Duration
	task     Task
	busy     atomic.Bool

	// Ticks overrides the timer source for tests; when nil, Run creates a
	// time.Ticker with the configured interval.
	Ticks <-chan time.Time
}

// Every creates a Runner that fires task every interval.
func Every(interval time.Duration, task Task) *Runner {
	return &Runner{interval: interval, task: task}
}

// Run blocks until ctx is cancelled, invoking the task on every tick.
// Because the task runs inline, a slow cycle simply absorbs the ticks that
// fire meanwhile instead of stacking overlapping runs.
func (r *Runner) Run(ctx context.Context) {
	ticks := r.Ticks
	if ticks == nil {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			r.Trigger(ctx)
		}
	}
}

// Trigger runs the task once, unless a run is already in progress.
// Returns false when the run was skipped.
func (r *Runner) Trigger(ctx context.Context) bool {
	if !r.busy.CompareAndSwap(false, true) {
		return false
	}
	defer r.busy.Store(false)
	r.task(ctx)
	return true
}
