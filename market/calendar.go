package market

import (
	"fmt"
	"time"
)

// Calendar decides which days the exchange is open.
type Calendar interface {
	IsTradingDay(t time.Time) bool
}

// HolidayCalendar is open Monday through Friday except for listed holidays.
type HolidayCalendar struct {
	holidays map[time.Time]struct{}
}

func NewCalendar(holidays ...time.Time) *HolidayCalendar {
	c := &HolidayCalendar{holidays: make(map[time.Time]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[Day(h)] = struct{}{}
	}
	return c
}

// ParseHolidays parses YYYY-MM-DD strings into days.
func ParseHolidays(days []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(days))
	for _, s := range days {
		t, err := ParseDay(s)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", s, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *HolidayCalendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := c.holidays[Day(t)]
	return !closed
}

// TradingDays lists the open days in [start, end].
func TradingDays(cal Calendar, start, end time.Time) []time.Time {
	var days []time.Time
	for d := Day(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		if cal.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}
