// Package regime implements the market-wide program-flow aggregator of
// spec §4.19 (C19), adapted from
// original_source/strategy_kmp/adapters/program_regime.py's
// MarketProgramRegime.
package regime

import (
	"context"
	"sync"
	"time"

	"github.com/kis-core/execution/internal/logging"
)

// DefaultAlpha is the EWMA smoothing factor the spec pins.
const DefaultAlpha = 0.35

// PollInterval is how often each tracked market is sampled.
const PollInterval = 60 * time.Second

// Label is the aggregate regime classification.
type Label string

const (
	StrongInflow Label = "strong_inflow"
	Outflow      Label = "outflow"
	Mixed        Label = "mixed"
)

// Fetcher retrieves the market-aggregated cumulative program-net-buy value
// for one market ("KOSPI" or "KOSDAQ").
type Fetcher interface {
	ProgramNetBuy(ctx context.Context, market string) (float64, error)
}

// Tracker maintains per-market EWMA-smoothed program-flow deltas and
// derives a portfolio-wide regime label and sizing multiplier from them.
// Safe for concurrent use: Update runs on the poll loop, Regime/Multiplier
// are read from the FSM's sizing path.
type Tracker struct {
	mu        sync.RWMutex
	alpha     float64
	prevCum   map[string]float64
	ewmaDelta map[string]float64
	seen      map[string]bool
}

// NewTracker builds a Tracker with the given EWMA smoothing factor.
func NewTracker(alpha float64) *Tracker {
	return &Tracker{
		alpha:     alpha,
		prevCum:   make(map[string]float64),
		ewmaDelta: make(map[string]float64),
		seen:      make(map[string]bool),
	}
}

// Update feeds one market's latest cumulative program-net-buy sample. The
// first observation for a market, or a cumulative value that has gone
// backwards (a session reset), re-bases the tracker for that market
// instead of producing a delta.
func (t *Tracker) Update(market string, cumulative float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seen[market] || cumulative < t.prevCum[market] {
		t.prevCum[market] = cumulative
		t.ewmaDelta[market] = 0
		t.seen[market] = true
		return
	}

	delta := cumulative - t.prevCum[market]
	t.prevCum[market] = cumulative

	prev := t.ewmaDelta[market]
	t.ewmaDelta[market] = t.alpha*delta + (1-t.alpha)*prev
}

// Regime classifies the current KOSPI/KOSDAQ EWMA deltas.
func (t *Tracker) Regime() Label {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k := t.ewmaDelta["KOSPI"]
	q := t.ewmaDelta["KOSDAQ"]
	switch {
	case k > 0 && q > 0:
		return StrongInflow
	case k < 0 && q < 0:
		return Outflow
	default:
		return Mixed
	}
}

// Multiplier returns the sizing overlay for the current regime (spec
// §4.18's program_mult).
func (t *Tracker) Multiplier() float64 {
	switch t.Regime() {
	case StrongInflow:
		return 1.10
	case Outflow:
		return 0.85
	default:
		return 1.00
	}
}

// Run polls fetcher for both tracked markets every PollInterval until ctx
// is canceled. Transport errors are logged and skipped; the tracker simply
// retains its last EWMA value until the next successful sample.
func (t *Tracker) Run(ctx context.Context, fetcher Fetcher, markets []string) {
	log := logging.Default().With("program_regime")
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	poll := func() {
		for _, mkt := range markets {
			cum, err := fetcher.ProgramNetBuy(ctx, mkt)
			if err != nil {
				log.Debugf("program poll error for %s: %v", mkt, err)
				continue
			}
			t.Update(mkt, cum)
		}
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}
