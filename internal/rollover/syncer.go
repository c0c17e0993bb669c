// Package rollover implements the periodic synchronizer: it finalizes candles
// whose bucket has ended, seeds the following bucket with the closing price,
// and snapshots still-open candles to the durable store so a crash loses at
// most one cycle of data.
package rollover

import (
	"context"
	"fmt"
	"log"
	"time"

	"candle-enginev1/internal/cache"
	"candle-enginev1/internal/model"
	"candle-enginev1/internal/session"
)

// DurableStore is the keyed record store the syncer writes to. Upsert with
// final=true marks the row as a completed bucket; final=false rows are
// still-mutable snapshots.
type DurableStore interface {
	Upsert(ctx context.Context, c model.Candle, final bool) error
	UpsertBatch(ctx context.Context, candles []model.Candle, final bool) error
}

// SnapshotPublisher receives the live working set after each cycle, for
// downstream consumers that want near-real-time candles without touching the
// cache. Optional.
type SnapshotPublisher interface {
	Publish(ctx context.Context, candles []model.Candle) error
}

const defaultBudget = 8 * time.Second

// Syncer runs the rollover cycle. In-memory state is the source of truth:
// a candle is only removed from the cache once its final state is durably
// written, so a failed finalize is retried on the next cycle.
type Syncer struct {
	cache *cache.Cache
	clock *session.Clock
	store DurableStore
	pub   SnapshotPublisher // may be nil

	// Budget bounds one cycle; candles not reached before it expires are
	// caught up on the next cycle.
	Budget time.Duration

	// Now is the wall clock deciding bucket completion. Override in tests.
	Now func() time.Time

	// Metrics hooks (optional, set externally).
	OnFinalized     func(g model.Granularity)
	OnFinalizeError func()
	OnSeeded        func(g model.Granularity)
	OnBudgetExcess  func(remaining int)
}

// New creates a Syncer.
func New(c *cache.Cache, clock *session.Clock, store DurableStore, pub SnapshotPublisher) *Syncer {
	return &Syncer{
		cache:  c,
		clock:  clock,
		store:  store,
		pub:    pub,
		Budget: defaultBudget,
		Now:    time.Now,
	}
}

// RunCycle scans a snapshot of the live candles once. Ended buckets are
// finalized and their successors seeded; open buckets are snapshotted.
// Intended to be driven by a scheduler that never overlaps cycles.
func (s *Syncer) RunCycle(ctx context.Context) {
	now := s.Now()
	deadline := now.Add(s.Budget)
	snap := s.cache.Snapshot()

	for i, c := range snap {
		if s.Now().After(deadline) {
			remaining := len(snap) - i
			log.Printf("[rollover] cycle budget %s exceeded, %d candles deferred to next cycle", s.Budget, remaining)
			if s.OnBudgetExcess != nil {
				s.OnBudgetExcess(remaining)
			}
			break
		}

		end := s.clock.BucketEnd(c.BucketStart, c.Granularity)
		if !now.Before(end) {
			s.finalize(ctx, c, end)
			continue
		}

		// Still open: persist a non-final snapshot so durable readers see
		// near-real-time data. Failures are tolerated; memory is authoritative.
		if err := s.store.Upsert(ctx, c, false); err != nil {
			log.Printf("[rollover] snapshot upsert failed for %s: %v", c.Key(), err)
		}
	}

	if s.pub != nil {
		if err := s.pub.Publish(ctx, s.cache.Snapshot()); err != nil {
			log.Printf("[rollover] snapshot publish failed: %v", err)
		}
	}
}

// finalize durably writes the completed candle, removes it from memory, and
// seeds the next bucket with the closing price. The durable write must
// succeed before the candle leaves memory: losing a finalize would break the
// next bucket's open-price continuity.
func (s *Syncer) finalize(ctx context.Context, c model.Candle, end time.Time) {
	if err := s.store.Upsert(ctx, c, true); err != nil {
		log.Printf("[rollover] finalize upsert failed for %s, keeping in memory: %v", c.Key(), err)
		if s.OnFinalizeError != nil {
			s.OnFinalizeError()
		}
		return
	}

	s.cache.Delete(c.Token, c.Granularity, c.BucketStart)
	if s.OnFinalized != nil {
		s.OnFinalized(c.Granularity)
	}

	// No seeding into a closed session: overnight and weekend buckets would
	// otherwise churn empty candles until the next open.
	if s.clock.Phase(end) == session.Closed {
		return
	}

	next := model.Candle{
		Token:       c.Token,
		Name:        c.Name,
		Exchange:    c.Exchange,
		Granularity: c.Granularity,
		BucketStart: end,
		Open:        c.Close,
		High:        c.Close,
		HighSet:     true,
		Low:         c.Close,
		Close:       c.Close,
		UpdatedAt:   end,
	}
	// A tick may have raced ahead and created the next bucket already;
	// first-writer-wins, never overwrite.
	if s.cache.PutIfAbsent(next) {
		if s.OnSeeded != nil {
			s.OnSeeded(c.Granularity)
		}
	}
}

// ForceSyncAll synchronously flushes every live candle: ended buckets as
// final rows, open buckets as snapshots. Used by the inspection API and the
// shutdown path.
func (s *Syncer) ForceSyncAll(ctx context.Context) error {
	now := s.Now()
	snap := s.cache.Snapshot()

	var ended, open []model.Candle
	for _, c := range snap {
		if !now.Before(s.clock.BucketEnd(c.BucketStart, c.Granularity)) {
			ended = append(ended, c)
		} else {
			open = append(open, c)
		}
	}

	if len(ended) > 0 {
		if err := s.store.UpsertBatch(ctx, ended, true); err != nil {
			return fmt.Errorf("force sync (final): %w", err)
		}
	}
	if len(open) > 0 {
		if err := s.store.UpsertBatch(ctx, open, false); err != nil {
			return fmt.Errorf("force sync (snapshot): %w", err)
		}
	}
	return nil
}
