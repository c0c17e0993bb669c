package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Candle is the live OHLCV bar for one (token, granularity, bucket) triple.
// All prices are in paise (int64) to avoid floating-point drift.
//
// High is only meaningful when HighSet is true. A candle created during
// pre-market has HighSet=false until a later tick establishes the high; this
// replaces the below-low numeric sentinel so that a pre-market stub is
// unambiguous even for near-zero prices.
type Candle struct {
	Token       string      `json:"token"`
	Name        string      `json:"name,omitempty"`
	Exchange    string      `json:"exchange"`
	Granularity Granularity `json:"granularity"`
	BucketStart time.Time   `json:"bucket_start"`
	Open        int64       `json:"open"`  // paise
	High        int64       `json:"high"`  // paise, valid only if HighSet
	HighSet     bool        `json:"high_set"`
	Low         int64       `json:"low"`   // paise
	Close       int64       `json:"close"` // paise
	Volume      int64       `json:"volume"`
	TickCount   int         `json:"tick_count"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CandleKey builds the cache key for a (token, granularity, bucket start).
func CandleKey(token string, g Granularity, bucketStart time.Time) string {
	return token + "|" + string(g) + "|" + strconv.FormatInt(bucketStart.Unix(), 10)
}

// Key returns the candle's cache key.
func (c *Candle) Key() string {
	return CandleKey(c.Token, c.Granularity, c.BucketStart)
}

// InstrumentKey returns "exchange:token".
func (c *Candle) InstrumentKey() string {
	return c.Exchange + ":" + c.Token
}

// ApplyPrice folds a traded price into high/low/close. Open is not touched;
// the engine decides open handling per session phase.
func (c *Candle) ApplyPrice(price int64) {
	if !c.HighSet {
		c.High = price
		c.HighSet = true
	} else if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
