package condition

import (
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
)

// WallClockCalendar maps wall-clock time to a market session using
// configured boundary times in a fixed timezone. Weekends are CLOSED when
// so configured. Holiday awareness belongs in an alternative Calendar
// implementation; this one intentionally stays dumb.
type WallClockCalendar struct {
	loc            *time.Location
	preMarketOpen  int // minutes since midnight
	regularOpen    int
	regularClose   int
	afterHoursEnd  int
	weekendsClosed bool
}

// CalendarConfig holds the session boundary times ("15:04" format).
type CalendarConfig struct {
	Timezone       string
	PreMarketOpen  string
	RegularOpen    string
	RegularClose   string
	AfterHoursEnd  string
	WeekendsClosed bool
}

// NewWallClockCalendar builds a calendar from boundary strings. Bad
// boundaries are a configuration error, fatal at startup.
func NewWallClockCalendar(cfg CalendarConfig) (*WallClockCalendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session timezone: %w", err)
	}
	c := &WallClockCalendar{loc: loc, weekendsClosed: cfg.WeekendsClosed}
	for _, b := range []struct {
		s   string
		dst *int
	}{
		{cfg.PreMarketOpen, &c.preMarketOpen},
		{cfg.RegularOpen, &c.regularOpen},
		{cfg.RegularClose, &c.regularClose},
		{cfg.AfterHoursEnd, &c.afterHoursEnd},
	} {
		m, err := parseMinutes(b.s)
		if err != nil {
			return nil, err
		}
		*b.dst = m
	}
	if c.preMarketOpen >= c.regularOpen || c.regularOpen >= c.regularClose || c.regularClose >= c.afterHoursEnd {
		return nil, fmt.Errorf("session boundaries must be strictly increasing")
	}
	return c, nil
}

// SessionAt implements repository.Calendar.
func (c *WallClockCalendar) SessionAt(t time.Time) models.MarketSession {
	lt := t.In(c.loc)
	if c.weekendsClosed {
		if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return models.SessionClosed
		}
	}
	m := lt.Hour()*60 + lt.Minute()
	switch {
	case m < c.preMarketOpen:
		return models.SessionClosed
	case m < c.regularOpen:
		return models.SessionPreMarket
	case m < c.regularClose:
		return models.SessionRegular
	case m < c.afterHoursEnd:
		return models.SessionAfterHours
	default:
		return models.SessionClosed
	}
}

func parseMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("bad session boundary %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

var _ repository.Calendar = (*WallClockCalendar)(nil)
