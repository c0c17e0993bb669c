// Package session provides the pure market-session clock: classifying a
// timestamp into a session phase and computing granularity-aligned bucket
// boundaries. It holds no state beyond its configuration.
package session

import (
	"time"

	"candle-enginev1/internal/model"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Phase is the market-session phase governing tick-processing rules.
type Phase int

const (
	Closed Phase = iota
	PreMarket
	PriceDiscovery
	ActiveTrading
	PostMarket
)

func (p Phase) String() string {
	switch p {
	case PreMarket:
		return "pre_market"
	case PriceDiscovery:
		return "price_discovery"
	case ActiveTrading:
		return "active_trading"
	case PostMarket:
		return "post_market"
	default:
		return "closed"
	}
}

// Config holds the session boundaries as minutes-of-day in Location.
// The phase windows are:
//
//	PreMarket      [PreOpenMin, DiscoveryMin)
//	PriceDiscovery [DiscoveryMin, OpenMin)
//	ActiveTrading  [OpenMin, CloseMin]
//	PostMarket     (CloseMin, PostCloseMin]
//	Closed         otherwise, all of Saturday/Sunday, and exchange holidays
type Config struct {
	Location     *time.Location
	PreOpenMin   int // e.g. 9*60 = 540 → 09:00
	DiscoveryMin int // 9*60+8 → 09:08
	OpenMin      int // 9*60+15 → 09:15
	CloseMin     int // 15*60+30 → 15:30
	PostCloseMin int // 17*60 → 17:00
	Holidays     Calendar // full-day closures, nil means none
}

// DefaultConfig returns the NSE session calendar in IST.
func DefaultConfig() Config {
	return Config{
		Location:     IST,
		PreOpenMin:   9 * 60,
		DiscoveryMin: 9*60 + 8,
		OpenMin:      9*60 + 15,
		CloseMin:     15*60 + 30,
		PostCloseMin: 17 * 60,
		Holidays:     NSEHolidays2026(),
	}
}

// Clock classifies timestamps and computes bucket boundaries. Stateless and
// safe for concurrent use.
type Clock struct {
	cfg Config
}

// New creates a Clock. A nil location falls back to IST.
func New(cfg Config) *Clock {
	if cfg.Location == nil {
		cfg.Location = IST
	}
	return &Clock{cfg: cfg}
}

// Location returns the exchange time zone the clock operates in.
func (c *Clock) Location() *time.Location { return c.cfg.Location }

// Phase classifies t into a session phase.
func (c *Clock) Phase(t time.Time) Phase {
	lt := t.In(c.cfg.Location)
	if !c.tradingDay(lt) {
		return Closed
	}

	hm := lt.Hour()*60 + lt.Minute()
	switch {
	case hm >= c.cfg.PreOpenMin && hm < c.cfg.DiscoveryMin:
		return PreMarket
	case hm >= c.cfg.DiscoveryMin && hm < c.cfg.OpenMin:
		return PriceDiscovery
	case hm >= c.cfg.OpenMin && hm <= c.cfg.CloseMin:
		return ActiveTrading
	case hm > c.cfg.CloseMin && hm <= c.cfg.PostCloseMin:
		return PostMarket
	default:
		return Closed
	}
}

// BucketStart floors t to the granularity boundary in the exchange zone.
// Minute granularities floor minutes-since-midnight to a multiple of N,
// 1d floors to midnight, 7d to the most recent Monday midnight, and 1M to
// the first of the month.
func (c *Clock) BucketStart(t time.Time, g model.Granularity) time.Time {
	lt := t.In(c.cfg.Location)
	rule := model.RuleFor(g)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.cfg.Location)

	switch {
	case rule.Fixed():
		mins := lt.Hour()*60 + lt.Minute()
		mins -= mins % rule.Minutes
		return midnight.Add(time.Duration(mins) * time.Minute)
	case rule.Months > 0:
		return time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, c.cfg.Location)
	case rule.Days == 7:
		// Monday-anchored week.
		back := (int(lt.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -back)
	default:
		return midnight
	}
}

// BucketEnd returns bucketStart plus exactly one granularity step,
// calendar-aware for day/week/month granularities.
func (c *Clock) BucketEnd(bucketStart time.Time, g model.Granularity) time.Time {
	rule := model.RuleFor(g)
	if rule.Fixed() {
		return bucketStart.Add(rule.Duration())
	}
	return bucketStart.AddDate(0, rule.Months, rule.Days)
}

// PrevBucketStart returns bucketStart minus one granularity step. Used for
// open-price continuity lookups.
func (c *Clock) PrevBucketStart(bucketStart time.Time, g model.Granularity) time.Time {
	rule := model.RuleFor(g)
	if rule.Fixed() {
		return bucketStart.Add(-rule.Duration())
	}
	return bucketStart.AddDate(0, -rule.Months, -rule.Days)
}
