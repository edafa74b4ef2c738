package vwap

import (
	"testing"
	"time"

	"github.com/kis-core/execution/internal/bar"
)

// TestLedger_TwoTickAverage exercises the two-tick VWAP average scenario:
// two ticks at different prices and volumes average to the volume-weighted
// mean, not the simple mean.
func TestLedger_TwoTickAverage(t *testing.T) {
	l := NewLedger("2026-07-30")
	l.UpdateFromTick(100, 10)
	l.UpdateFromTick(110, 30)

	got := l.VWAP()
	want := (100*10 + 110*30) / 40.0
	if got != want {
		t.Fatalf("VWAP = %v, want %v", got, want)
	}
}

func TestLedger_ZeroVolumeGuarded(t *testing.T) {
	l := NewLedger("anchor")
	if got := l.VWAP(); got != 0 {
		t.Fatalf("VWAP on empty ledger = %v, want 0", got)
	}
	l.UpdateFromTick(100, 0)
	if got := l.VWAP(); got != 0 {
		t.Fatalf("zero-volume tick must not move VWAP, got %v", got)
	}
}

func TestLedger_UpdateFromBarUsesTypicalPrice(t *testing.T) {
	l := NewLedger("anchor")
	l.UpdateFromBar(bar.OHLCV{High: 110, Low: 90, Close: 100, Volume: 10})
	want := (110.0 + 90.0 + 100.0) / 3
	if got := l.VWAP(); got != want {
		t.Fatalf("VWAP = %v, want %v", got, want)
	}
}

func TestLedger_ReplaceCumulative(t *testing.T) {
	l := NewLedger("anchor")
	l.UpdateFromTick(100, 10)
	l.ReplaceCumulative(500, 55000)
	if got := l.VWAP(); got != 110 {
		t.Fatalf("VWAP after replace = %v, want 110", got)
	}
	if l.CumVol() != 500 || l.CumPV() != 55000 {
		t.Fatalf("CumVol/CumPV = %v/%v, want 500/55000", l.CumVol(), l.CumPV())
	}
}

func TestVWAPBand(t *testing.T) {
	lo, hi := VWAPBand(100, 0.01)
	if lo != 99 || hi != 101 {
		t.Fatalf("VWAPBand = (%v, %v), want (99, 101)", lo, hi)
	}
}

func TestComputeAnchoredDailyVWAP_FiltersByDate(t *testing.T) {
	d1 := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	bars := []bar.OHLCV{
		{Start: d1, High: 200, Low: 200, Close: 200, Volume: 100},
		{Start: d2, High: 110, Low: 90, Close: 100, Volume: 10},
	}
	got := ComputeAnchoredDailyVWAP(bars, "2026-07-30")
	want := (110.0 + 90.0 + 100.0) / 3
	if got != want {
		t.Fatalf("anchored VWAP = %v, want %v (prior-day bar excluded)", got, want)
	}
}
