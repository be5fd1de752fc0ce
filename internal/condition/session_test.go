package condition

import (
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
)

func nyCalendar(t *testing.T) *WallClockCalendar {
	t.Helper()
	c, err := NewWallClockCalendar(CalendarConfig{
		Timezone:       "America/New_York",
		PreMarketOpen:  "04:00",
		RegularOpen:    "09:30",
		RegularClose:   "16:00",
		AfterHoursEnd:  "20:00",
		WeekendsClosed: true,
	})
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	return c
}

func TestSessionBoundaries(t *testing.T) {
	c := nyCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, ny) // a Monday

	cases := []struct {
		hour, min int
		want      models.MarketSession
	}{
		{3, 59, models.SessionClosed},
		{4, 0, models.SessionPreMarket},
		{9, 29, models.SessionPreMarket},
		{9, 30, models.SessionRegular},
		{15, 59, models.SessionRegular},
		{16, 0, models.SessionAfterHours},
		{19, 59, models.SessionAfterHours},
		{20, 0, models.SessionClosed},
		{23, 30, models.SessionClosed},
	}
	for _, tc := range cases {
		at := day.Add(time.Duration(tc.hour)*time.Hour + time.Duration(tc.min)*time.Minute)
		if got := c.SessionAt(at); got != tc.want {
			t.Fatalf("%02d:%02d: got %s, want %s", tc.hour, tc.min, got, tc.want)
		}
	}
}

func TestSessionWeekend(t *testing.T) {
	c := nyCalendar(t)
	ny, _ := time.LoadLocation("America/New_York")
	saturdayNoon := time.Date(2026, 3, 7, 12, 0, 0, 0, ny)
	if got := c.SessionAt(saturdayNoon); got != models.SessionClosed {
		t.Fatalf("saturday noon: got %s, want CLOSED", got)
	}
}

func TestSessionTimezoneConversion(t *testing.T) {
	c := nyCalendar(t)
	// 15:00 UTC on 2026-03-02 is 10:00 in New York (EST), inside regular hours
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	if got := c.SessionAt(at); got != models.SessionRegular {
		t.Fatalf("utc conversion: got %s, want REGULAR", got)
	}
}

func TestCalendarRejectsBadConfig(t *testing.T) {
	if _, err := NewWallClockCalendar(CalendarConfig{
		Timezone:      "Not/AZone",
		PreMarketOpen: "04:00", RegularOpen: "09:30", RegularClose: "16:00", AfterHoursEnd: "20:00",
	}); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
	if _, err := NewWallClockCalendar(CalendarConfig{
		Timezone:      "UTC",
		PreMarketOpen: "04:00", RegularOpen: "09:30", RegularClose: "16:00", AfterHoursEnd: "15:00",
	}); err == nil {
		t.Fatalf("expected error for non-increasing boundaries")
	}
	if _, err := NewWallClockCalendar(CalendarConfig{
		Timezone:      "UTC",
		PreMarketOpen: "4am", RegularOpen: "09:30", RegularClose: "16:00", AfterHoursEnd: "20:00",
	}); err == nil {
		t.Fatalf("expected error for malformed boundary")
	}
}
