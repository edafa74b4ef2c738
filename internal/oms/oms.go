// Package oms implements the OMS reconciliation loop of spec §4.20 (C20),
// adapted from original_source/strategy_kmp/core/reconcile.py's
// reconcile_exposure. It is the arbiter of truth between the strategy's
// own FSM view of a position and what the broker actually holds.
package oms

import (
	"context"
	"time"

	"github.com/kis-core/execution/internal/exposure"
	"github.com/kis-core/execution/internal/logging"
	"github.com/kis-core/execution/internal/metrics"
	"github.com/kis-core/execution/internal/symbolstate"
)

// Interval is the default reconciliation cadence (spec §4.20: "every 1-2s").
const Interval = 1500 * time.Millisecond

// BrokerPosition is one symbol's broker-confirmed holding for this
// strategy's allocation slice.
type BrokerPosition struct {
	Qty     float64
	EntryPx float64
}

// Broker snapshots live positions.
type Broker interface {
	Positions(ctx context.Context) (map[string]BrokerPosition, error)
}

// Registry enumerates every tracked symbol's state.
type Registry interface {
	All() map[string]*symbolstate.State
}

// Reconciler runs the periodic OMS truth pass.
type Reconciler struct {
	broker   Broker
	registry Registry
	exposure *exposure.Exposure
	log      logging.Logger
}

// NewReconciler builds a Reconciler over a broker position source, the
// symbol registry, and the shared sector-exposure tracker.
func NewReconciler(broker Broker, registry Registry, exp *exposure.Exposure) *Reconciler {
	return &Reconciler{broker: broker, registry: registry, exposure: exp, log: logging.Default().With("oms_reconciler")}
}

// Run polls ReconcileOnce every Interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce snapshots broker positions, rebuilds sector exposure from
// that truth, and forces FSM phase corrections for fills or closes seen
// out of band. Transport failure is logged and skipped; the next tick
// retries.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	metrics.ReconcileRunsTotal.Inc()
	positions, err := r.broker.Positions(ctx)
	if err != nil {
		r.log.Debugf("reconciliation failed: %v", err)
		return
	}

	states := r.registry.All()

	exposurePositions := make(map[string]exposure.Position, len(positions))
	for sym, pos := range positions {
		exposurePositions[sym] = exposure.Position{Qty: pos.Qty, Px: pos.EntryPx}
	}

	workingSymbols := make(map[string]bool)
	for sym, st := range states {
		if st.Phase() == symbolstate.Armed {
			workingSymbols[sym] = true
		}
	}

	r.exposure.Reconcile(exposurePositions, workingSymbols)

	for sym, pos := range positions {
		if pos.Qty <= 0 {
			continue
		}
		st, ok := states[sym]
		if !ok {
			continue
		}
		phase := st.Phase()
		if phase != symbolstate.InPosition && phase != symbolstate.Done {
			st.ReconcileFill(pos.Qty, pos.EntryPx)
			st.SetPhase(symbolstate.InPosition)
			metrics.ReconcileForcedInPositionTotal.Inc()
			r.log.Infof("%s: reconciled to IN_POSITION, qty=%v", sym, pos.Qty)
		}
	}

	for sym, st := range states {
		if st.Phase() != symbolstate.InPosition {
			continue
		}
		pos, held := positions[sym]
		if !held || pos.Qty <= 0 {
			st.SetSkipReason("position_closed_externally")
			st.SetPhase(symbolstate.Done)
			metrics.ReconcileExternalCloseTotal.Inc()
			r.log.Infof("%s: position closed externally, DONE", sym)
		}
	}
}
