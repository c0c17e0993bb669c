// Package cache owns the in-memory working set of live candles. It is the
// single shared resource between the tick path and the rollover cycle, so
// every mutation happens under one mutex with read-check-write discipline.
package cache

import (
	"sync"
	"time"

	"candle-enginev1/internal/model"
)

// Stats summarizes the live working set for the inspection API.
type Stats struct {
	TotalLiveCandles int            `json:"total_live_candles"`
	PerGranularity   map[string]int `json:"per_granularity_counts"`
}

// Cache is a keyed collection of live candles. Keys are
// model.CandleKey(token, granularity, bucketStart).
type Cache struct {
	mu      sync.RWMutex
	candles map[string]*model.Candle
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{candles: make(map[string]*model.Candle, 256)}
}

// Get returns a copy of the candle at the key, if present.
func (c *Cache) Get(token string, g model.Granularity, bucketStart time.Time) (model.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cd, ok := c.candles[model.CandleKey(token, g, bucketStart)]
	if !ok {
		return model.Candle{}, false
	}
	return *cd, true
}

// Mutate applies fn to the candle at the key under the write lock.
// Returns false if no candle exists at the key; fn is not called.
func (c *Cache) Mutate(token string, g model.Granularity, bucketStart time.Time, fn func(*model.Candle)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.candles[model.CandleKey(token, g, bucketStart)]
	if !ok {
		return false
	}
	fn(cd)
	return true
}

// PutIfAbsent inserts the candle unless its key is already taken.
// First-writer-wins: returns false and leaves the existing candle untouched
// when a tick and the rollover seeder race on the same bucket.
func (c *Cache) PutIfAbsent(cd model.Candle) bool {
	key := cd.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.candles[key]; ok {
		return false
	}
	cp := cd
	c.candles[key] = &cp
	return true
}

// Delete removes the candle at the key, if present.
func (c *Cache) Delete(token string, g model.Granularity, bucketStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.candles, model.CandleKey(token, g, bucketStart))
}

// Snapshot returns copies of all live candles. The rollover cycle iterates
// this snapshot so concurrent inserts never disturb the scan.
func (c *Cache) Snapshot() []model.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Candle, 0, len(c.candles))
	for _, cd := range c.candles {
		out = append(out, *cd)
	}
	return out
}

// Live returns copies of live candles for one token, optionally narrowed to
// a single granularity (g == "" means all).
func (c *Cache) Live(token string, g model.Granularity) []model.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Candle
	for _, cd := range c.candles {
		if cd.Token != token {
			continue
		}
		if g != "" && cd.Granularity != g {
			continue
		}
		out = append(out, *cd)
	}
	return out
}

// Stats counts live candles per granularity.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{
		TotalLiveCandles: len(c.candles),
		PerGranularity:   make(map[string]int),
	}
	for _, cd := range c.candles {
		s.PerGranularity[string(cd.Granularity)]++
	}
	return s
}

// Clear drops every live candle and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.candles)
	c.candles = make(map[string]*model.Candle, 256)
	return n
}

// Len returns the number of live candles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.candles)
}
