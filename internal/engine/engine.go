// Package engine implements the tick-to-candle aggregation core. One call to
// ProcessTick fans a tick out into every enabled granularity, creating or
// updating the live candle for that bucket under the session-phase rules.
package engine

import (
	"context"
	"log"
	"time"

	"candle-enginev1/internal/cache"
	"candle-enginev1/internal/model"
	"candle-enginev1/internal/session"
)

// CandleFinder is the durable-store lookup the engine needs for open-price
// continuity when the previous bucket is no longer in memory.
type CandleFinder interface {
	Find(ctx context.Context, token string, g model.Granularity, bucketStart time.Time) (*model.Candle, error)
}

// Engine consumes normalized ticks and maintains the live candle per
// (token, granularity). Tick processing never performs durable writes; the
// only external I/O is the previous-close lookup on candle creation.
type Engine struct {
	clock *session.Clock
	cache *cache.Cache
	store CandleFinder // may be nil (no durable fallback)
	grans []model.Granularity

	// Now is the wall clock used for stale-bucket checks. Override in tests.
	Now func() time.Time

	// Metrics hooks (optional, set externally).
	OnTick          func()
	OnClosedDrop    func()
	OnStaleTick     func()
	OnCandleCreated func(g model.Granularity)
}

// New creates an Engine over the given cache and enabled granularities.
func New(clock *session.Clock, c *cache.Cache, store CandleFinder, grans []model.Granularity) *Engine {
	return &Engine{
		clock: clock,
		cache: c,
		store: store,
		grans: grans,
		Now:   time.Now,
	}
}

// Granularities returns the enabled granularity set.
func (e *Engine) Granularities() []model.Granularity { return e.grans }

// ProcessTick folds one tick into every enabled granularity. Malformed ticks
// fail fast before any state mutation. Ticks outside all sessions are dropped
// silently. Safe for concurrent callers.
func (e *Engine) ProcessTick(ctx context.Context, tick model.Tick) error {
	if err := tick.Validate(); err != nil {
		return err
	}

	phase := e.clock.Phase(tick.TickTS)
	if phase == session.Closed {
		if e.OnClosedDrop != nil {
			e.OnClosedDrop()
		}
		return nil
	}
	if e.OnTick != nil {
		e.OnTick()
	}

	now := e.Now()
	for _, g := range e.grans {
		e.processGranularity(ctx, tick, g, phase, now)
	}
	return nil
}

func (e *Engine) processGranularity(ctx context.Context, tick model.Tick, g model.Granularity, phase session.Phase, now time.Time) {
	start := e.clock.BucketStart(tick.TickTS, g)

	// Late tick: its bucket has already ended and been rolled over. Updating
	// it would resurrect a finalized bucket, so drop it for this granularity.
	if !now.Before(e.clock.BucketEnd(start, g)) {
		if e.OnStaleTick != nil {
			e.OnStaleTick()
		}
		return
	}

	// Update the existing candle, or create one and retry the update if a
	// concurrent tick or the rollover seeder won the creation race.
	for attempt := 0; attempt < 2; attempt++ {
		if e.cache.Mutate(tick.Token, g, start, func(c *model.Candle) {
			e.applyTick(c, tick, phase)
		}) {
			return
		}
		if e.cache.PutIfAbsent(e.newCandle(ctx, tick, g, start, phase)) {
			if e.OnCandleCreated != nil {
				e.OnCandleCreated(g)
			}
			return
		}
	}
}

// applyTick mutates an existing candle per the session-phase rules.
// Outside pre-market the open is frozen; during pre-market the exchange's
// discovered price may still move, so the open follows the latest tick.
func (e *Engine) applyTick(c *model.Candle, tick model.Tick, phase session.Phase) {
	if phase == session.PreMarket {
		c.Open = tick.Price
	}
	c.ApplyPrice(tick.Price)
	c.Volume += tick.Qty
	c.TickCount++
	c.UpdatedAt = tick.TickTS
	if tick.Name != "" {
		c.Name = tick.Name
	}
}

// newCandle builds the first candle for a bucket per the session-phase
// creation rules.
func (e *Engine) newCandle(ctx context.Context, tick model.Tick, g model.Granularity, start time.Time, phase session.Phase) model.Candle {
	c := model.Candle{
		Token:       tick.Token,
		Name:        tick.Name,
		Exchange:    tick.Exchange,
		Granularity: g,
		BucketStart: start,
		Low:         tick.Price,
		Close:       tick.Price,
		Volume:      tick.Qty,
		TickCount:   1,
		UpdatedAt:   tick.TickTS,
	}

	switch phase {
	case session.PreMarket:
		// The high is not meaningful before the open is fixed; leave it
		// unestablished so downstream readers can tell this is a stub.
		c.Open = tick.Price

	case session.PriceDiscovery:
		c.Open = tick.Price
		c.High = tick.Price
		c.HighSet = true

	default: // ActiveTrading, PostMarket
		open, ok := e.previousClose(ctx, tick.Token, g, start)
		if !ok {
			open = tick.Price
		}
		c.Open = open
		c.High = max64(open, tick.Price)
		c.HighSet = true
		c.Low = min64(open, tick.Price)
	}
	return c
}

// previousClose resolves the prior bucket's close for open-price continuity:
// the live cache first, the durable store second.
func (e *Engine) previousClose(ctx context.Context, token string, g model.Granularity, start time.Time) (int64, bool) {
	prevStart := e.clock.PrevBucketStart(start, g)

	if prev, ok := e.cache.Get(token, g, prevStart); ok {
		return prev.Close, true
	}
	if e.store == nil {
		return 0, false
	}
	prev, err := e.store.Find(ctx, token, g, prevStart)
	if err != nil {
		log.Printf("[engine] previous-close lookup failed for %s %s: %v", token, g, err)
		return 0, false
	}
	if prev == nil {
		return 0, false
	}
	return prev.Close, true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
