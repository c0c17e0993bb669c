package session

import "time"

// Calendar is a set of full-day exchange holidays. Dates are interpreted in
// the clock's location.
type Calendar map[string]struct{}

func dateKey(y int, m time.Month, d int) string {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

// NewCalendar builds a Calendar from (year, month, day) entries.
func NewCalendar(dates ...[3]int) Calendar {
	c := make(Calendar, len(dates))
	for _, d := range dates {
		c[dateKey(d[0], time.Month(d[1]), d[2])] = struct{}{}
	}
	return c
}

// Contains reports whether the date of t (already in exchange-local time) is
// a holiday.
func (c Calendar) Contains(t time.Time) bool {
	if len(c) == 0 {
		return false
	}
	_, ok := c[dateKey(t.Year(), t.Month(), t.Day())]
	return ok
}

// NSEHolidays2026 is the NSE trading holiday list for calendar year 2026,
// per the exchange's published circular. Tentative dates depend on lunar
// sightings and may shift by a day.
func NSEHolidays2026() Calendar {
	return NewCalendar(
		[3]int{2026, 1, 26},  // Republic Day
		[3]int{2026, 2, 17},  // Mahashivratri (tentative)
		[3]int{2026, 3, 14},  // Holi
		[3]int{2026, 3, 31},  // Id-ul-Fitr (tentative)
		[3]int{2026, 4, 2},   // Ram Navami (tentative)
		[3]int{2026, 4, 6},   // Mahavir Jayanti
		[3]int{2026, 4, 10},  // Good Friday
		[3]int{2026, 4, 14},  // Dr. Ambedkar Jayanti
		[3]int{2026, 5, 1},   // Maharashtra Day
		[3]int{2026, 6, 7},   // Bakrid (tentative)
		[3]int{2026, 7, 6},   // Muharram (tentative)
		[3]int{2026, 8, 15},  // Independence Day
		[3]int{2026, 8, 16},  // Janmashtami (tentative)
		[3]int{2026, 9, 5},   // Milad-un-Nabi (tentative)
		[3]int{2026, 10, 2},  // Gandhi Jayanti
		[3]int{2026, 10, 20}, // Dussehra
		[3]int{2026, 10, 21}, // Dussehra (tentative)
		[3]int{2026, 11, 5},  // Diwali (tentative)
		[3]int{2026, 11, 6},  // Diwali Balipratipada (tentative)
		[3]int{2026, 11, 7},  // Bhai Dooj (tentative)
		[3]int{2026, 11, 19}, // Guru Nanak Jayanti
		[3]int{2026, 12, 25}, // Christmas
	)
}

// NextOpen returns the next instant the session enters pre-market: the
// PreOpenMin boundary of the next trading day (or today, if still ahead).
// Used for startup logging when the process comes up outside market hours.
func (c *Clock) NextOpen(t time.Time) time.Time {
	lt := t.In(c.cfg.Location)
	for i := 0; i < 14; i++ {
		day := lt.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.cfg.Location).
			Add(time.Duration(c.cfg.PreOpenMin) * time.Minute)
		if !c.tradingDay(open) || !t.Before(open) {
			continue
		}
		return open
	}
	return lt.AddDate(0, 0, 1)
}

func (c *Clock) tradingDay(lt time.Time) bool {
	wd := lt.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.cfg.Holidays.Contains(lt)
}
