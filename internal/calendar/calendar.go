// Package calendar implements the KRX trading-day calendar (spec §4.2):
// weekend + holiday membership, previous/next trading day iteration bounded
// by a caller-supplied limit.
package calendar

import (
	"time"

	"github.com/kis-core/execution/internal/kiserrors"
)

// Calendar holds a set of non-trading (holiday) dates. The zero value is a
// calendar with no holidays (weekends only are non-trading).
type Calendar struct {
	holidays map[string]struct{}
}

// New builds a Calendar from an ordered (or unordered) set of holiday dates.
func New(holidays []time.Time) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, d := range holidays {
		c.holidays[dateKey(d)] = struct{}{}
	}
	return c
}

func dateKey(d time.Time) string {
	return d.Format("2006-01-02")
}

// IsHoliday reports whether date is in the configured holiday set
// (time-of-day is ignored).
func (c *Calendar) IsHoliday(date time.Time) bool {
	_, ok := c.holidays[dateKey(date)]
	return ok
}

// IsTradingDay reports weekday ∈ {Mon..Fri} AND date is not a holiday.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	wd := date.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(date)
}

// PreviousTradingDay iterates backward day-by-day from date (exclusive),
// returning the first trading day found. Fails with ErrOutOfRange if more
// than maxLookback days are scanned without finding one.
func (c *Calendar) PreviousTradingDay(date time.Time, maxLookback int) (time.Time, error) {
	cur := date
	for i := 0; i < maxLookback; i++ {
		cur = cur.AddDate(0, 0, -1)
		if c.IsTradingDay(cur) {
			return cur, nil
		}
	}
	return time.Time{}, kiserrors.ErrOutOfRange
}

// NextTradingDay iterates forward day-by-day from date (exclusive),
// returning the first trading day found. Fails with ErrOutOfRange if more
// than maxLookahead days are scanned without finding one.
func (c *Calendar) NextTradingDay(date time.Time, maxLookahead int) (time.Time, error) {
	cur := date
	for i := 0; i < maxLookahead; i++ {
		cur = cur.AddDate(0, 0, 1)
		if c.IsTradingDay(cur) {
			return cur, nil
		}
	}
	return time.Time{}, kiserrors.ErrOutOfRange
}
