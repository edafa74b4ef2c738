package dispatch

import (
	"testing"
	"time"

	"github.com/kis-core/execution/internal/symbolstate"
	"github.com/kis-core/execution/internal/wsclient"
)

type fakeRegistry struct {
	byTicker map[string]*symbolstate.State
}

func (r *fakeRegistry) Get(symbol string) (*symbolstate.State, bool) {
	st, ok := r.byTicker[symbol]
	return st, ok
}

func newFakeRegistry(symbols ...string) *fakeRegistry {
	r := &fakeRegistry{byTicker: make(map[string]*symbolstate.State)}
	for _, s := range symbols {
		r.byTicker[s] = symbolstate.New(s, "tech", 100, 90, 95)
	}
	return r
}

func TestHandleTick_SetsLastPriceDistinctFromVWAP(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)

	now := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 70500, Volume: 10, Timestamp: now})

	st, _ := reg.Get("005930")
	snap := st.Snapshot()
	if snap.LastPrice != 70500 {
		t.Fatalf("LastPrice = %v, want 70500", snap.LastPrice)
	}
}

func TestHandleTick_ReplacesCumulativeWhenCumVolPresent(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)

	now := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 100, Volume: 5, CumVol: 100, CumVal: 10500, Timestamp: now})

	st, _ := reg.Get("005930")
	snap := st.Snapshot()
	if snap.VWAP != 105 {
		t.Fatalf("VWAP = %v, want 105 (10500/100)", snap.VWAP)
	}
}

func TestHandleTick_FallsBackToIncrementalWithoutCumVol(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)

	now := time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC)
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 100, Volume: 10, Timestamp: now})
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 110, Volume: 30, Timestamp: now})

	st, _ := reg.Get("005930")
	snap := st.Snapshot()
	want := (100*10.0 + 110*30.0) / 40.0
	if snap.VWAP != want {
		t.Fatalf("VWAP = %v, want %v", snap.VWAP, want)
	}
}

func TestHandleTick_LocksORAndStopsUpdating(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)
	st, _ := reg.Get("005930")

	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 100, Volume: 1, Timestamp: now})
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 110, Volume: 1, Timestamp: now})
	st.LockOR()
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 200, Volume: 1, Timestamp: now})

	snap := st.Snapshot()
	if snap.ORHigh != 110 {
		t.Fatalf("ORHigh = %v, want 110 (locked before the 200 tick)", snap.ORHigh)
	}
}

// TestHandleTick_RollsBarAndFeedsATR exercises the bar-roll scenario end to
// end through the dispatch pipeline: a tick crossing the 1-minute boundary
// completes the prior bar and feeds the rolling ATR.
func TestHandleTick_RollsBarAndFeedsATR(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)
	st, _ := reg.Get("005930")

	base := time.Date(2026, 7, 30, 9, 0, 10, 0, time.UTC)
	for i := 0; i < 14; i++ {
		minuteStart := base.Add(time.Duration(i) * time.Minute)
		d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 100 + float64(i), Volume: 1, Timestamp: minuteStart})
		d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 100 + float64(i) + 1, Volume: 1, Timestamp: minuteStart.Add(30 * time.Second)})
	}
	// one more tick in the next minute completes the 14th bar, warming ATR(14).
	d.HandleTick(wsclient.TickMessage{Ticker: "005930", Price: 120, Volume: 1, Timestamp: base.Add(14 * time.Minute)})

	snap := st.Snapshot()
	if snap.ATR1m <= 0 {
		t.Fatalf("ATR1m = %v, want a positive value once 14 one-minute bars have completed", snap.ATR1m)
	}
}

func TestHandleTick_UnknownSymbolIsIgnored(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)
	d.HandleTick(wsclient.TickMessage{Ticker: "999999", Price: 100, Volume: 1, Timestamp: time.Now()})
}

func TestHandleAskBid_UpdatesTopOfBook(t *testing.T) {
	reg := newFakeRegistry("005930")
	d := NewDispatcher(reg)

	d.HandleAskBid(wsclient.AskBidMessage{Ticker: "005930", Bid: 100, Ask: 101})

	st, _ := reg.Get("005930")
	snap := st.Snapshot()
	if snap.Bid != 100 || snap.Ask != 101 {
		t.Fatalf("Bid/Ask = %v/%v, want 100/101", snap.Bid, snap.Ask)
	}
	if snap.Spread != 1 {
		t.Fatalf("Spread = %v, want 1", snap.Spread)
	}
}
