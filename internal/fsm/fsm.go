package fsm

import (
	"time"

	"github.com/kis-core/execution/internal/metrics"
	"github.com/kis-core/execution/internal/symbolstate"
	"github.com/kis-core/execution/internal/ticksize"
)

// Switches holds the strategy-specific configuration surface spec §6 names
// for the FSM: require_held_support, quality_min, or_range_max,
// min_surge_slope.
type Switches struct {
	RequireHeldSupport bool
	Tolerance          float64
	QualityMin         float64
	ORRangeMax         float64
	MinSurgeSlope      float64
}

// DefaultSwitches mirrors strategy_kmp's permissive defaults.
func DefaultSwitches() Switches {
	return Switches{
		RequireHeldSupport: false,
		Tolerance:          0.002,
		QualityMin:         qualityThresholdLow,
		ORRangeMax:         0.07,
		MinSurgeSlope:      0.03,
	}
}

// Machine drives one symbol's FSM transitions (spec §4.18) over its
// symbolstate.State.
type Machine struct {
	ticks    *ticksize.Table
	switches Switches
}

// NewMachine builds a Machine over a shared tick-size table and strategy
// switches.
func NewMachine(ticks *ticksize.Table, switches Switches) *Machine {
	return &Machine{ticks: ticks, switches: switches}
}

// transitionTo moves state to phase and records the transition on the
// fsm_transitions_total counter.
func (m *Machine) transitionTo(state *symbolstate.State, phase symbolstate.Phase) {
	from := state.Phase()
	state.SetPhase(phase)
	metrics.FSMTransitionsTotal.WithLabelValues(string(from), string(phase)).Inc()
}

// TryAdmit moves an IDLE symbol to CANDIDATE once the premarket scan (trend
// anchor + value surge) has admitted it. The caller is responsible for
// having already called state.SetTrendOK / SetScan.
func (m *Machine) TryAdmit(state *symbolstate.State) bool {
	if state.Phase() != symbolstate.Idle {
		return false
	}
	snap := state.Snapshot()
	if !snap.TrendOK {
		return false
	}
	m.transitionTo(state, symbolstate.Candidate)
	return true
}

// LockAndFilter runs at OR-lock time (09:15 local): it locks the opening
// range and, if its width fails the configured range filter, retires the
// symbol to DONE instead of advancing it to WATCH_BREAK.
func (m *Machine) LockAndFilter(state *symbolstate.State) bool {
	if state.Phase() != symbolstate.Candidate {
		return false
	}
	state.LockOR()
	snap := state.Snapshot()
	if !orRangeValid(snap.ORHigh, snap.ORLow, snap.ORMid, m.switches.ORRangeMax) {
		state.SetSkipReason("OR_RANGE_INVALID")
		m.transitionTo(state, symbolstate.Done)
		return false
	}
	m.transitionTo(state, symbolstate.WatchBreak)
	return true
}

// TryBreak evaluates the WATCH_BREAK -> WAIT_ACCEPTANCE gate on the current
// tick: a clean breakout above the opening range, above VWAP, with
// sufficient relative volume and spread, and not VI-blocked.
func (m *Machine) TryBreak(state *symbolstate.State, price float64, now time.Time) bool {
	if state.Phase() != symbolstate.WatchBreak {
		return false
	}
	snap := state.Snapshot()
	tick := m.ticks.TickSize(price)

	if !(price > snap.ORHigh) {
		return false
	}
	if !(price >= snap.VWAP) {
		return false
	}
	if !rvolOK(snap.RVol1m) {
		return false
	}
	if !spreadOK(snap.SpreadPct) {
		return false
	}
	if viBlocked(snap.ViRefPrice, snap.LastViTS, price, tick, now) {
		return false
	}

	state.UpdateBreak(now)
	m.transitionTo(state, symbolstate.WaitAcceptance)
	return true
}

// AcceptanceResult reports the outcome of a WAIT_ACCEPTANCE tick: either
// acceptance (ready to size and arm), a timeout (retired to DONE), or
// neither (still waiting).
type AcceptanceResult struct {
	Accepted bool
	TimedOut bool
}

// TickWaitAcceptance updates retest_low for the current tick and evaluates
// acceptance / timeout. It does not itself transition to ARMED: sizing
// (Arm) decides whether the surge/quality gates also pass.
func (m *Machine) TickWaitAcceptance(state *symbolstate.State, price float64, now time.Time) AcceptanceResult {
	if state.Phase() != symbolstate.WaitAcceptance {
		return AcceptanceResult{}
	}
	state.UpdateRetestLow(price)
	snap := state.Snapshot()

	if now.Sub(snap.BreakTS) >= acceptTimeout {
		state.SetSkipReason("ACCEPT_TIMEOUT")
		m.transitionTo(state, symbolstate.Done)
		return AcceptanceResult{TimedOut: true}
	}

	pullbackOccurred := snap.RetestLow < snap.ORHigh
	reclaimed := price > snap.ORHigh
	if !pullbackOccurred || !reclaimed {
		return AcceptanceResult{}
	}
	if m.switches.RequireHeldSupport {
		if snap.RetestLow < snap.VWAP*(1-m.switches.Tolerance) {
			return AcceptanceResult{}
		}
	}
	return AcceptanceResult{Accepted: true}
}

// Arm applies the time-decay surge gate and the sizing pipeline on
// acceptance, and transitions WAIT_ACCEPTANCE -> ARMED when qty is
// positive. Zero qty retires the symbol to DONE rather than leaving it
// stuck in WAIT_ACCEPTANCE.
func (m *Machine) Arm(state *symbolstate.State, sizing SizingInputs, minutesSinceOpen float64) (qty float64, armed bool) {
	if state.Phase() != symbolstate.WaitAcceptance {
		return 0, false
	}
	snap := state.Snapshot()

	minSurge := minSurgeThreshold(minutesSinceOpen, m.switches.MinSurgeSlope)
	if snap.SurgeRatio < minSurge {
		state.SetSkipReason("SURGE_DECAY")
		m.transitionTo(state, symbolstate.Done)
		return 0, false
	}

	sizing.QualityScore.MinutesSinceOpen = minutesSinceOpen
	sizing.QualityScore.MinSurgeSlope = m.switches.MinSurgeSlope
	sizing.TimeMinutes = minutesSinceOpen

	qty = ComputeQty(snap, sizing, m.switches.QualityMin)
	if qty <= 0 {
		state.SetSkipReason("QUALITY_BELOW_MIN")
		m.transitionTo(state, symbolstate.Done)
		return 0, false
	}

	m.transitionTo(state, symbolstate.Armed)
	return qty, true
}

// OnEntryFill moves ARMED -> IN_POSITION on broker confirmation of the
// entry order.
func (m *Machine) OnEntryFill(state *symbolstate.State, px float64, ts time.Time, qty, structureStop, hardStop float64, regime, orderID string) bool {
	if state.Phase() != symbolstate.Armed {
		return false
	}
	state.SetEntry(px, ts, qty, structureStop, hardStop, regime, orderID)
	m.transitionTo(state, symbolstate.InPosition)
	return true
}

// Tick runs the IN_POSITION exit engine for the current price and, if it
// signals an exit, transitions to PENDING_EXIT.
func (m *Machine) Tick(state *symbolstate.State, price float64, regime string, riskOff bool, now time.Time) ExitDecision {
	if state.Phase() != symbolstate.InPosition {
		return ExitDecision{}
	}
	decision := CheckExit(state, price, regime, riskOff, now)
	if decision.ShouldExit {
		state.SetSkipReason(decision.Reason)
		m.transitionTo(state, symbolstate.PendingExit)
		metrics.ExitsTotal.WithLabelValues(decision.Reason).Inc()
	}
	return decision
}

// OnExitFill moves PENDING_EXIT -> DONE on confirmation of the exit fill.
func (m *Machine) OnExitFill(state *symbolstate.State) bool {
	if state.Phase() != symbolstate.PendingExit {
		return false
	}
	m.transitionTo(state, symbolstate.Done)
	return true
}

// ForceDone retires a symbol from any phase with the given skip reason; the
// engine uses it when sector exposure blocks an entry.
func (m *Machine) ForceDone(state *symbolstate.State, reason string) {
	state.SetSkipReason(reason)
	m.transitionTo(state, symbolstate.Done)
}
