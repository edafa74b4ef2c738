package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/kis-core/execution/internal/kiserrors"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsTradingDay_WeekendsExcluded(t *testing.T) {
	c := New(nil)
	sat := date(2026, time.August, 1)
	if c.IsTradingDay(sat) {
		t.Fatalf("%s is a Saturday, expected non-trading day", sat)
	}
}

func TestIsTradingDay_HolidayExcluded(t *testing.T) {
	holiday := date(2026, time.August, 3)
	c := New([]time.Time{holiday})
	if c.IsTradingDay(holiday) {
		t.Fatal("expected configured holiday to be a non-trading day")
	}
	if !c.IsHoliday(holiday) {
		t.Fatal("expected IsHoliday true for configured holiday")
	}
}

func TestIsTradingDay_OrdinaryWeekday(t *testing.T) {
	c := New(nil)
	mon := date(2026, time.August, 3)
	if !c.IsTradingDay(mon) {
		t.Fatalf("%s is a Monday with no holidays configured, expected trading day", mon)
	}
}

func TestPreviousTradingDay_SkipsWeekendAndHoliday(t *testing.T) {
	fri := date(2026, time.July, 31)
	c := New([]time.Time{fri})
	mon := date(2026, time.August, 3)
	got, err := c.PreviousTradingDay(mon, 10)
	if err != nil {
		t.Fatalf("PreviousTradingDay: %v", err)
	}
	want := date(2026, time.July, 30)
	if !got.Equal(want) {
		t.Fatalf("PreviousTradingDay(%s) = %s, want %s", mon, got, want)
	}
}

func TestNextTradingDay_SkipsWeekend(t *testing.T) {
	c := New(nil)
	fri := date(2026, time.July, 31)
	got, err := c.NextTradingDay(fri, 10)
	if err != nil {
		t.Fatalf("NextTradingDay: %v", err)
	}
	want := date(2026, time.August, 3)
	if !got.Equal(want) {
		t.Fatalf("NextTradingDay(%s) = %s, want %s", fri, got, want)
	}
}

func TestPreviousTradingDay_OutOfRange(t *testing.T) {
	c := New(nil)
	_, err := c.PreviousTradingDay(date(2026, time.August, 3), 0)
	if !errors.Is(err, kiserrors.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}
