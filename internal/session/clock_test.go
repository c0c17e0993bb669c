package session

import (
	"testing"
	"time"

	"candle-enginev1/internal/model"
)

// ist builds a timestamp on Tuesday 2024-01-09 in IST.
func ist(h, m, s int) time.Time {
	return time.Date(2024, 1, 9, h, m, s, 0, IST)
}

func TestClock_PhaseBoundaries(t *testing.T) {
	c := New(DefaultConfig())

	cases := []struct {
		ts   time.Time
		want Phase
	}{
		{ist(8, 59, 59), Closed},
		{ist(9, 0, 0), PreMarket},
		{ist(9, 7, 59), PreMarket},
		{ist(9, 8, 0), PriceDiscovery},
		{ist(9, 14, 59), PriceDiscovery},
		{ist(9, 15, 0), ActiveTrading},
		{ist(12, 0, 0), ActiveTrading},
		{ist(15, 30, 0), ActiveTrading}, // close minute is inclusive
		{ist(15, 31, 0), PostMarket},
		{ist(17, 0, 0), PostMarket},
		{ist(17, 1, 0), Closed},
		{ist(3, 0, 0), Closed},
	}
	for _, tc := range cases {
		if got := c.Phase(tc.ts); got != tc.want {
			t.Errorf("Phase(%v) = %v, want %v", tc.ts, got, tc.want)
		}
	}
}

func TestClock_WeekendIsClosed(t *testing.T) {
	c := New(DefaultConfig())
	sat := time.Date(2024, 1, 13, 11, 0, 0, 0, IST)
	sun := time.Date(2024, 1, 14, 11, 0, 0, 0, IST)
	if c.Phase(sat) != Closed {
		t.Error("expected Saturday to be Closed")
	}
	if c.Phase(sun) != Closed {
		t.Error("expected Sunday to be Closed")
	}
}

func TestClock_BucketStartIntraday(t *testing.T) {
	c := New(DefaultConfig())
	ts := ist(10, 47, 23)

	cases := []struct {
		g    model.Granularity
		want time.Time
	}{
		{model.Gran1m, ist(10, 47, 0)},
		{model.Gran3m, ist(10, 45, 0)},
		{model.Gran5m, ist(10, 45, 0)},
		{model.Gran10m, ist(10, 40, 0)},
		{model.Gran15m, ist(10, 45, 0)},
		{model.Gran30m, ist(10, 30, 0)},
		{model.Gran1h, ist(10, 0, 0)},
		{model.Gran2h, ist(10, 0, 0)},
		{model.Gran4h, ist(8, 0, 0)},
	}
	for _, tc := range cases {
		got := c.BucketStart(ts, tc.g)
		if !got.Equal(tc.want) {
			t.Errorf("BucketStart(%s) = %v, want %v", tc.g, got, tc.want)
		}
	}
}

func TestClock_BucketStartCalendar(t *testing.T) {
	c := New(DefaultConfig())
	ts := ist(10, 47, 23) // Tuesday, 2024-01-09

	if got := c.BucketStart(ts, model.Gran1d); !got.Equal(time.Date(2024, 1, 9, 0, 0, 0, 0, IST)) {
		t.Errorf("1d bucket start = %v", got)
	}
	// 7d anchors at the most recent Monday.
	if got := c.BucketStart(ts, model.Gran7d); !got.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, IST)) {
		t.Errorf("7d bucket start = %v", got)
	}
	if got := c.BucketStart(ts, model.Gran1M); !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, IST)) {
		t.Errorf("1M bucket start = %v", got)
	}

	// A Monday floors to itself for the weekly bucket.
	mon := time.Date(2024, 1, 8, 14, 0, 0, 0, IST)
	if got := c.BucketStart(mon, model.Gran7d); !got.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, IST)) {
		t.Errorf("7d bucket start on Monday = %v", got)
	}
	// A Sunday floors back six days.
	sun := time.Date(2024, 1, 14, 14, 0, 0, 0, IST)
	if got := c.BucketStart(sun, model.Gran7d); !got.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, IST)) {
		t.Errorf("7d bucket start on Sunday = %v", got)
	}
}

// Bucket alignment property: start <= t < end, and flooring is idempotent.
func TestClock_BucketAlignmentProperty(t *testing.T) {
	c := New(DefaultConfig())
	samples := []time.Time{
		ist(9, 0, 0),
		ist(9, 15, 1),
		ist(13, 59, 59),
		ist(15, 30, 0),
		time.Date(2024, 2, 29, 10, 30, 45, 0, IST), // leap day
		time.Date(2024, 12, 31, 23, 59, 59, 0, IST),
	}

	for _, g := range model.AllGranularities() {
		for _, ts := range samples {
			start := c.BucketStart(ts, g)
			end := c.BucketEnd(start, g)

			if start.After(ts) {
				t.Errorf("%s: bucketStart %v after ts %v", g, start, ts)
			}
			if !ts.Before(end) {
				t.Errorf("%s: ts %v not before bucketEnd %v", g, ts, end)
			}
			if again := c.BucketStart(start, g); !again.Equal(start) {
				t.Errorf("%s: bucketStart not idempotent: %v -> %v", g, start, again)
			}
		}
	}
}

func TestClock_PrevBucketStart(t *testing.T) {
	c := New(DefaultConfig())

	for _, g := range model.AllGranularities() {
		start := c.BucketStart(ist(10, 47, 0), g)
		prev := c.PrevBucketStart(start, g)
		if got := c.BucketEnd(prev, g); !got.Equal(start) {
			t.Errorf("%s: BucketEnd(prev) = %v, want %v", g, got, start)
		}
	}

	// Month arithmetic crosses the year boundary.
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, IST)
	if got := c.PrevBucketStart(jan, model.Gran1M); !got.Equal(time.Date(2023, 12, 1, 0, 0, 0, 0, IST)) {
		t.Errorf("1M prev of January = %v", got)
	}
}

func TestClock_BucketEndCalendar(t *testing.T) {
	c := New(DefaultConfig())

	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, IST)
	if got := c.BucketEnd(feb, model.Gran1M); !got.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, IST)) {
		t.Errorf("1M bucket end for February = %v", got)
	}

	day := time.Date(2024, 2, 28, 0, 0, 0, 0, IST)
	if got := c.BucketEnd(day, model.Gran1d); !got.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, IST)) {
		t.Errorf("1d bucket end across leap day = %v", got)
	}
}

func TestClock_ConfigurableBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenMin = 10 * 60 // open at 10:00 instead
	c := New(cfg)

	if got := c.Phase(ist(9, 30, 0)); got != PriceDiscovery {
		t.Errorf("expected PriceDiscovery before the shifted open, got %v", got)
	}
	if got := c.Phase(ist(10, 0, 0)); got != ActiveTrading {
		t.Errorf("expected ActiveTrading at the shifted open, got %v", got)
	}
}

func TestClock_HolidayIsClosed(t *testing.T) {
	c := New(DefaultConfig())

	// Republic Day 2026 falls on a Monday.
	republicDay := time.Date(2026, 1, 26, 10, 30, 0, 0, IST)
	if got := c.Phase(republicDay); got != Closed {
		t.Errorf("expected Closed on an exchange holiday, got %v", got)
	}

	nextDay := time.Date(2026, 1, 27, 10, 30, 0, 0, IST)
	if got := c.Phase(nextDay); got != ActiveTrading {
		t.Errorf("expected ActiveTrading the day after, got %v", got)
	}

	// No calendar configured: only weekends close the session.
	cfg := DefaultConfig()
	cfg.Holidays = nil
	if got := New(cfg).Phase(republicDay); got != ActiveTrading {
		t.Errorf("expected ActiveTrading without a holiday calendar, got %v", got)
	}
}

func TestClock_NextOpen(t *testing.T) {
	c := New(DefaultConfig())

	cases := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{
			"before today's pre-open",
			time.Date(2026, 1, 20, 7, 0, 0, 0, IST), // Tuesday
			time.Date(2026, 1, 20, 9, 0, 0, 0, IST),
		},
		{
			"after close rolls to tomorrow",
			time.Date(2026, 1, 20, 18, 0, 0, 0, IST),
			time.Date(2026, 1, 21, 9, 0, 0, 0, IST),
		},
		{
			"friday evening skips the weekend",
			time.Date(2026, 1, 23, 18, 0, 0, 0, IST),
			time.Date(2026, 1, 26, 9, 0, 0, 0, IST).AddDate(0, 0, 1), // Monday is Republic Day
		},
	}
	for _, tc := range cases {
		if got := c.NextOpen(tc.at); !got.Equal(tc.want) {
			t.Errorf("%s: NextOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}
