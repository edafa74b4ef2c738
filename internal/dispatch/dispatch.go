// Package dispatch implements the per-tick state-update pipeline of spec
// §4.15 (C15): it drives every symbolstate.State mutation from parsed
// wsclient messages. Grounded on
// SynapseStrike/trader/vwap_collector.go's tick-to-bar wiring and
// original_source/strategy_kmp/adapters/tick_dispatch.py.
package dispatch

import (
	"github.com/kis-core/execution/internal/symbolstate"
	"github.com/kis-core/execution/internal/wsclient"
)

// Registry resolves a symbol to its State, letting Dispatcher stay
// independent of how the caller indexes symbols.
type Registry interface {
	Get(symbol string) (*symbolstate.State, bool)
}

// Dispatcher wires a wsclient.Client's parsed messages into symbol state
// updates.
type Dispatcher struct {
	registry Registry

	// prevCumVol tracks, per symbol, the cum_vol observed on the previous
	// tick so HandleTick can derive trade_vol = cum_vol - previous_cum_vol
	// for the imbalance feed (spec §4.15). Single-writer under the
	// dispatch loop per spec §5, so no lock is needed.
	prevCumVol map[string]float64
}

// NewDispatcher builds a Dispatcher over registry.
func NewDispatcher(registry Registry) *Dispatcher {
	return &Dispatcher{registry: registry, prevCumVol: make(map[string]float64)}
}

// Attach registers this Dispatcher's handlers on ws, so every parsed tick
// and top-of-book message flows through HandleTick / HandleAskBid.
func (d *Dispatcher) Attach(ws *wsclient.Client) {
	ws.OnTick(d.HandleTick)
	ws.OnAskBid(d.HandleAskBid)
}

// HandleTick applies one parsed tick message to its symbol's state: VWAP
// (wholesale replace or incremental fallback), the last-trade price the
// FSM drives its gates against, opening range, VI tracking, tick
// imbalance, and 1m/5m bar aggregation with ATR/rvol recompute on 1m bar
// completion.
func (d *Dispatcher) HandleTick(msg wsclient.TickMessage) {
	st, ok := d.registry.Get(msg.Ticker)
	if !ok {
		return
	}

	if msg.CumVol > 0 {
		st.ReplaceCumulative(msg.CumVol, msg.CumVal)
	} else {
		st.IncrementCumulative(msg.Volume, msg.Price)
	}
	st.SetLastPrice(msg.Price)

	if !st.ORLocked() {
		st.UpdateOR(msg.Price)
	}

	st.UpdateVI(msg.ViRef, msg.Timestamp)

	prev, hasPrev := d.prevCumVol[msg.Ticker]
	tradeVol := msg.Volume
	if msg.CumVol > 0 {
		if hasPrev && msg.CumVol >= prev {
			tradeVol = msg.CumVol - prev
		}
		d.prevCumVol[msg.Ticker] = msg.CumVol
	}
	st.ImbalanceTracker().Update(float64(msg.Timestamp.Unix()), msg.Price, tradeVol)

	if completed, done := st.Bar1m().UpdateTick(msg.Timestamp, msg.Price, msg.Volume); done {
		st.FeedCompletedBar1m(completed)
	}
	if completed, done := st.Bar5m().UpdateTick(msg.Timestamp, msg.Price, msg.Volume); done {
		st.UpdateLast5mValue(completed.Close * completed.Volume)
	}
}

// HandleAskBid applies one parsed top-of-book message to its symbol's
// state.
func (d *Dispatcher) HandleAskBid(msg wsclient.AskBidMessage) {
	st, ok := d.registry.Get(msg.Ticker)
	if !ok {
		return
	}
	st.UpdateTopOfBook(msg.Bid, msg.Ask)
}
