package dashboard

import (
	"time"

	"github.com/scmhub/calendar"

	"github.com/Dellyyty/gex-tool/internal/logger"
)

// marketClock answers whether the listing exchange is open. Backed by
// scmhub/calendar (NYSE, MIC xnys) with a Mon-Fri 09:30-16:00 New York
// fallback when the calendar cannot be loaded.
type marketClock struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

func newMarketClock() *marketClock {
	cal := calendar.GetCalendar("xnys")
	if cal == nil {
		logger.Warn("Failed to load xnys calendar, using Mon-Fri 09:30-16:00 fallback")
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.UTC
		}
		return &marketClock{fallback: true, loc: loc}
	}
	return &marketClock{cal: cal, loc: cal.Loc}
}

// IsOpen reports whether the exchange is open at t.
func (m *marketClock) IsOpen(t time.Time) bool {
	t = t.In(m.loc)
	if m.fallback {
		wd := t.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return false
		}
		hour, minute := t.Hour(), t.Minute()
		return (hour > 9 || (hour == 9 && minute >= 30)) && hour < 16
	}
	return m.cal.IsOpen(t)
}
