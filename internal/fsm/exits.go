package fsm

import (
	"math"
	"time"

	"github.com/kis-core/execution/internal/symbolstate"
)

// ExitDecision is the exit engine's per-tick verdict for an IN_POSITION
// symbol.
type ExitDecision struct {
	ShouldExit bool
	Reason     string
}

// currentR computes the R-multiple at price against entry/structure-stop.
func currentR(snap symbolstate.Snapshot, price float64) float64 {
	risk := math.Max(snap.EntryPx-snap.StructureStop, 1e-9)
	return (price - snap.EntryPx) / risk
}

// retracementFactor computes the adaptive trailing-stop retracement
// fraction: it ramps from 0.5 to 0.75 over the first 15-30 minutes held,
// and tightens to at least 0.7 on outflow regime or negative tick
// imbalance.
func retracementFactor(minutesHeld float64, regime string, imbalance float64) float64 {
	var f float64
	if minutesHeld <= 15 {
		f = 0.5
	} else {
		f = 0.5 + math.Min(0.25, (minutesHeld-15)*0.0167)
	}
	if regime == "outflow" {
		f = math.Max(f, 0.7)
	}
	if imbalance < 0 {
		f = math.Max(f, 0.7)
	}
	return f
}

// updateTrail recomputes max_fav/trail_px for the current tick and pushes
// the result into state (monotonic, never loosened).
func updateTrail(state *symbolstate.State, snap symbolstate.Snapshot, price float64, regime string, now time.Time) {
	maxFav := math.Max(snap.MaxFav, price)
	gain := maxFav - snap.EntryPx
	if gain <= 0 {
		state.UpdateTrailing(maxFav, snap.StructureStop)
		return
	}

	minutesHeld := now.Sub(snap.EntryTS).Minutes()
	f := retracementFactor(minutesHeld, regime, snap.ImbalanceValue)
	trail := snap.EntryPx + gain*f
	trail = math.Max(trail, snap.StructureStop)
	state.UpdateTrailing(maxFav, trail)
}

// CheckExit runs the IN_POSITION exit engine's strict-order checks against
// the current tick (spec §4.18): risk_off, hard stop, acceptance failure,
// stall scratch, then the trailing stop (which it also updates as a side
// effect, per the original engine's behavior of always tracking max_fav).
func CheckExit(state *symbolstate.State, price float64, regime string, riskOff bool, now time.Time) ExitDecision {
	snap := state.Snapshot()

	if riskOff {
		return ExitDecision{true, "risk_off"}
	}
	if price <= snap.HardStop {
		return ExitDecision{true, "hard_stop"}
	}

	minutesHeld := now.Sub(snap.EntryTS).Minutes()
	if minutesHeld < 15 && price < snap.ORHigh && price < snap.VWAP {
		return ExitDecision{true, "acceptance_failure"}
	}

	if minutesHeld >= stallMinMinutes {
		if currentR(snap, price) < stallRMin {
			return ExitDecision{true, "stall_scratch"}
		}
	}

	updateTrail(state, snap, price, regime, now)
	updated := state.Snapshot()
	if price <= updated.TrailPx && updated.MaxFav > updated.EntryPx {
		return ExitDecision{true, "trailing_stop"}
	}

	return ExitDecision{false, ""}
}
