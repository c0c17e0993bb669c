package model

import (
	"fmt"
	"time"
)

// Granularity identifies a candle bucket duration.
type Granularity string

const (
	Gran1m  Granularity = "1m"
	Gran3m  Granularity = "3m"
	Gran5m  Granularity = "5m"
	Gran10m Granularity = "10m"
	Gran15m Granularity = "15m"
	Gran30m Granularity = "30m"
	Gran1h  Granularity = "1h"
	Gran2h  Granularity = "2h"
	Gran4h  Granularity = "4h"
	Gran1d  Granularity = "1d"
	Gran7d  Granularity = "7d"
	Gran1M  Granularity = "1M"
)

// Rule describes how one granularity steps through time. Exactly one of
// Minutes, Days, Months is non-zero. Minute-based granularities use fixed
// duration arithmetic; day/week/month step on the calendar.
type Rule struct {
	Minutes int
	Days    int
	Months  int
}

// Fixed reports whether the granularity is a fixed intraday duration.
func (r Rule) Fixed() bool { return r.Minutes > 0 }

// Duration returns the fixed step for intraday granularities. Calendar
// granularities have no fixed duration and return 0.
func (r Rule) Duration() time.Duration {
	return time.Duration(r.Minutes) * time.Minute
}

// rules is the single source of truth for the supported granularities.
var rules = map[Granularity]Rule{
	Gran1m:  {Minutes: 1},
	Gran3m:  {Minutes: 3},
	Gran5m:  {Minutes: 5},
	Gran10m: {Minutes: 10},
	Gran15m: {Minutes: 15},
	Gran30m: {Minutes: 30},
	Gran1h:  {Minutes: 60},
	Gran2h:  {Minutes: 120},
	Gran4h:  {Minutes: 240},
	Gran1d:  {Days: 1},
	Gran7d:  {Days: 7},
	Gran1M:  {Months: 1},
}

// allGranularities preserves enumeration order for stats and config defaults.
var allGranularities = []Granularity{
	Gran1m, Gran3m, Gran5m, Gran10m, Gran15m, Gran30m,
	Gran1h, Gran2h, Gran4h, Gran1d, Gran7d, Gran1M,
}

// AllGranularities returns the full supported set in ascending order.
func AllGranularities() []Granularity {
	out := make([]Granularity, len(allGranularities))
	copy(out, allGranularities)
	return out
}

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if _, ok := rules[g]; !ok {
		return "", fmt.Errorf("unknown granularity %q", s)
	}
	return g, nil
}

// RuleFor returns the stepping rule for g. Panics on an unknown granularity;
// callers must go through ParseGranularity for external input.
func RuleFor(g Granularity) Rule {
	r, ok := rules[g]
	if !ok {
		panic("model: unknown granularity " + string(g))
	}
	return r
}
