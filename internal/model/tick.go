package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Validation errors returned by Tick.Validate. The aggregation engine rejects
// a tick carrying any of these before touching candle state.
var (
	ErrMissingToken = errors.New("tick: missing instrument token")
	ErrInvalidPrice = errors.New("tick: price must be positive")
	ErrNegativeQty  = errors.New("tick: quantity must be non-negative")
)

// Tick represents a single last-traded-price update for one instrument.
// Price is stored as int64 in paise (1 INR = 100 paise) to avoid float drift;
// the feed adapter owns the unit conversion.
type Tick struct {
	Token    string    `json:"token"`
	Name     string    `json:"name,omitempty"`
	Exchange string    `json:"exchange"`
	Price    int64     `json:"price"`   // paise (LTP)
	Qty      int64     `json:"qty"`     // traded quantity delta, may be 0
	TickTS   time.Time `json:"tick_ts"` // exchange-local timestamp
}

// Validate checks the tick's structural invariants.
func (t *Tick) Validate() error {
	if t.Token == "" {
		return ErrMissingToken
	}
	if t.Price <= 0 {
		return ErrInvalidPrice
	}
	if t.Qty < 0 {
		return ErrNegativeQty
	}
	return nil
}

// JSON returns the JSON-encoded tick.
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
