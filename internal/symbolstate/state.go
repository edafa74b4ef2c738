// Package symbolstate holds the shared per-symbol state record of spec §3,
// mutated by C15 (dispatch), C18 (FSM), and C20 (OMS reconciliation) and
// read as snapshots by every other consumer. Grounded on
// SynapseStrike/trader/auto_trader.go's AutoTrader cache fields and
// original_source/strategy_kmp/core/state.py.
package symbolstate

import (
	"math"
	"sync"
	"time"

	"github.com/kis-core/execution/internal/bar"
	"github.com/kis-core/execution/internal/imbalance"
	"github.com/kis-core/execution/internal/indicators"
)

// atrPeriod is the fixed ATR period the spec names for the 1-minute
// rolling ATR (§3: "rolling ATR(14) over 1-minute bars").
const atrPeriod = 14

// vol1mPeriod is the lookback window for the 1-minute volume rolling
// average used to compute rvol_1m (§4.15).
const vol1mPeriod = 20

// Phase is the FSM state a symbol currently occupies (spec §4.18).
type Phase string

const (
	Idle            Phase = "IDLE"
	Candidate       Phase = "CANDIDATE"
	WatchBreak      Phase = "WATCH_BREAK"
	WaitAcceptance  Phase = "WAIT_ACCEPTANCE"
	Armed           Phase = "ARMED"
	InPosition      Phase = "IN_POSITION"
	PendingExit     Phase = "PENDING_EXIT"
	Done            Phase = "DONE"
)

// Snapshot is an immutable copy of a symbol's state, safe to pass to
// readers outside the dispatch loop per spec §5's single-writer rule.
type Snapshot struct {
	Symbol string
	Sector string
	Phase  Phase

	Anchor20     float64
	Anchor60     float64
	PrevClose    float64
	TrendOK      bool

	ORHigh  float64
	ORLow   float64
	ORMid   float64
	ORLocked bool

	CumVol float64
	CumVal float64
	VWAP   float64

	LastPrice float64

	Scan15mValue float64
	SurgeRatio   float64

	Vol1mAvg     float64
	Vol1mCurrent float64

	ImbalanceValue float64

	Bid          float64
	Ask          float64
	Spread       float64
	SpreadPct    float64

	BreakTS    time.Time
	RetestLow  float64

	ViRefPrice  float64
	LastViTS    time.Time

	ATR1m      float64
	RVol1m     float64
	Last5mValue float64

	EntryPx       float64
	EntryTS       time.Time
	Qty           float64
	StructureStop float64
	HardStop      float64
	MaxFav        float64
	TrailPx       float64
	RegimeAtEntry string
	EntryOrderID  string

	SkipReason string
}

// State is the mutable, mutex-guarded symbol record. The dispatch loop
// (C15) is the sole writer of the tick-derived fields; Snapshot gives
// other readers a consistent point-in-time copy.
type State struct {
	mu sync.RWMutex

	symbol string
	sector string
	phase  Phase

	anchor20  float64
	anchor60  float64
	prevClose float64
	trendOK   bool

	orHigh   float64
	orLow    float64
	orMid    float64
	orLocked bool

	cumVol float64
	cumVal float64

	lastPrice float64

	scan15mValue float64
	surgeRatio   float64

	vol1mAvg     float64
	vol1mCurrent float64

	imbalance *imbalance.Tracker

	bid, ask, spread, spreadPct float64

	breakTS   time.Time
	retestLow float64

	viRefPrice float64
	lastViTS   time.Time

	atr1m       float64
	rvol1m      float64
	last5mValue float64

	bar1m, bar5m *bar.Aggregator
	rollingATR   *indicators.RollingATR
	rollingVol1m *indicators.RollingSMA
	lastBar1mClose float64

	entryPx       float64
	entryTS       time.Time
	qty           float64
	structureStop float64
	hardStop      float64
	maxFav        float64
	trailPx       float64
	regimeAtEntry string
	entryOrderID  string

	skipReason string
}

// New creates a fresh symbol state at IDLE, with the given anchors
// established at universe-filter time.
func New(symbol, sector string, anchor20, anchor60, prevClose float64) *State {
	return &State{
		symbol:    symbol,
		sector:    sector,
		phase:     Idle,
		anchor20:  anchor20,
		anchor60:  anchor60,
		prevClose: prevClose,
		retestLow: math.Inf(1),
		imbalance:    imbalance.NewTracker(imbalance.DefaultWindowSec),
		bar1m:        bar.NewAggregator(time.Minute, 390),
		bar5m:        bar.NewAggregator(5*time.Minute, 80),
		rollingATR:   indicators.NewRollingATR(atrPeriod),
		rollingVol1m: indicators.NewRollingSMA(vol1mPeriod),
	}
}

func (s *State) Symbol() string { return s.symbol }

func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase transitions the FSM phase. Callers are responsible for
// validating the transition (§4.18); State only stores it.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Snapshot returns a consistent point-in-time copy of the full record.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var vwap float64
	if s.cumVol > 0 {
		vwap = s.cumVal / s.cumVol
	}

	return Snapshot{
		Symbol: s.symbol, Sector: s.sector, Phase: s.phase,
		Anchor20: s.anchor20, Anchor60: s.anchor60, PrevClose: s.prevClose, TrendOK: s.trendOK,
		ORHigh: s.orHigh, ORLow: s.orLow, ORMid: s.orMid, ORLocked: s.orLocked,
		CumVol: s.cumVol, CumVal: s.cumVal, VWAP: vwap,
		LastPrice:    s.lastPrice,
		Scan15mValue: s.scan15mValue, SurgeRatio: s.surgeRatio,
		Vol1mAvg: s.vol1mAvg, Vol1mCurrent: s.vol1mCurrent,
		ImbalanceValue: s.imbalance.Compute(float64(time.Now().Unix())),
		Bid: s.bid, Ask: s.ask, Spread: s.spread, SpreadPct: s.spreadPct,
		BreakTS: s.breakTS, RetestLow: s.retestLow,
		ViRefPrice: s.viRefPrice, LastViTS: s.lastViTS,
		ATR1m: s.atr1m, RVol1m: s.rvol1m, Last5mValue: s.last5mValue,
		EntryPx: s.entryPx, EntryTS: s.entryTS, Qty: s.qty,
		StructureStop: s.structureStop, HardStop: s.hardStop, MaxFav: s.maxFav,
		TrailPx: s.trailPx, RegimeAtEntry: s.regimeAtEntry, EntryOrderID: s.entryOrderID,
		SkipReason: s.skipReason,
	}
}

// Bar1m and Bar5m expose the underlying aggregators to the dispatch loop
// (the sole writer, per spec §5).
func (s *State) Bar1m() *bar.Aggregator { return s.bar1m }
func (s *State) Bar5m() *bar.Aggregator { return s.bar5m }
func (s *State) ImbalanceTracker() *imbalance.Tracker { return s.imbalance }

// ResetForNewDay clears session-derived fields but preserves the daily
// anchors (anchor20, anchor60, prevClose, sector) until the next premarket
// refresh, per spec §3's lifecycle note.
func (s *State) ResetForNewDay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phase = Idle
	s.trendOK = false
	s.orHigh, s.orLow, s.orMid, s.orLocked = 0, 0, 0, false
	s.cumVol, s.cumVal = 0, 0
	s.lastPrice = 0
	s.scan15mValue, s.surgeRatio = 0, 0
	s.vol1mAvg, s.vol1mCurrent = 0, 0
	s.imbalance = imbalance.NewTracker(imbalance.DefaultWindowSec)
	s.bid, s.ask, s.spread, s.spreadPct = 0, 0, 0, 0
	s.breakTS = time.Time{}
	s.retestLow = math.Inf(1)
	s.viRefPrice = 0
	s.lastViTS = time.Time{}
	s.atr1m, s.rvol1m, s.last5mValue = 0, 0, 0
	s.bar1m = bar.NewAggregator(time.Minute, 390)
	s.bar5m = bar.NewAggregator(5*time.Minute, 80)
	s.rollingATR = indicators.NewRollingATR(atrPeriod)
	s.rollingVol1m = indicators.NewRollingSMA(vol1mPeriod)
	s.lastBar1mClose = 0
	s.entryPx, s.qty, s.structureStop, s.hardStop, s.maxFav, s.trailPx = 0, 0, 0, 0, 0, 0
	s.entryTS = time.Time{}
	s.regimeAtEntry = ""
	s.entryOrderID = ""
	s.skipReason = ""
}

// mutators below are invoked exclusively by the dispatch loop per spec §5;
// they still take the lock since Snapshot may be called concurrently by
// other strategy-layer readers.

func (s *State) SetSector(sector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sector = sector
}

func (s *State) SetTrendOK(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trendOK = ok
}

// UpdateOR updates the opening-range high/low before lock, maintaining
// or_low <= or_high.
func (s *State) UpdateOR(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orLocked {
		return
	}
	if s.orHigh == 0 || price > s.orHigh {
		s.orHigh = price
	}
	if s.orLow == 0 || price < s.orLow {
		s.orLow = price
	}
}

// LockOR locks the opening range, computing or_mid.
func (s *State) LockOR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orMid = (s.orHigh + s.orLow) / 2
	s.orLocked = true
}

// ORLocked reports whether the opening range has been locked.
func (s *State) ORLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orLocked
}

// ReplaceCumulative wholesale-sets cum_vol/cum_val from an authoritative
// stream field per spec §4.15. A strictly decreasing cum_vol is reported as
// a session reset (sessionReset true); the new values are stored either way.
func (s *State) ReplaceCumulative(cumVol, cumVal float64) (sessionReset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cumVol < s.cumVol {
		s.cumVol, s.cumVal = cumVol, cumVal
		return true
	}
	s.cumVol, s.cumVal = cumVol, cumVal
	return false
}

// IncrementCumulative applies an incremental VWAP update when cumulative
// stream fields are unavailable.
func (s *State) IncrementCumulative(deltaVol, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cumVol += deltaVol
	s.cumVal += deltaVol * price
}

// SetLastPrice records the last-trade tick price, distinct from VWAP: the
// FSM's break/acceptance/exit gates (spec §4.18) compare against the
// traded price, not the session-average VWAP.
func (s *State) SetLastPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = price
}

func (s *State) SetScan(value15m, surge float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scan15mValue, s.surgeRatio = value15m, surge
}

func (s *State) SetVol1m(avg, current float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol1mAvg, s.vol1mCurrent = avg, current
}

// UpdateTopOfBook sets bid/ask and recomputes spread/spread_pct.
func (s *State) UpdateTopOfBook(bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bid, s.ask = bid, ask
	spread := ask - bid
	if spread < 0 {
		spread = 0
	}
	s.spread = spread
	mid := (ask + bid) / 2
	if mid > 0 {
		s.spreadPct = spread / mid
	} else {
		s.spreadPct = 0
	}
}

// UpdateBreak records the break timestamp and resets retest_low to +inf,
// per WATCH_BREAK -> WAIT_ACCEPTANCE.
func (s *State) UpdateBreak(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakTS = now
	s.retestLow = math.Inf(1)
}

// UpdateRetestLow narrows retest_low monotonically toward the current
// price while in WAIT_ACCEPTANCE.
func (s *State) UpdateRetestLow(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if price < s.retestLow {
		s.retestLow = price
	}
}

// UpdateVI records a distinct new VI reference price and its timestamp.
func (s *State) UpdateVI(viRef float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if viRef > 0 && viRef != s.viRefPrice {
		s.viRefPrice = viRef
		s.lastViTS = now
	}
}

// FeedCompletedBar1m recomputes atr_1m and rvol_1m from a just-completed
// 1-minute bar (spec §4.15): the bar's true range feeds the rolling
// ATR(14), and its volume feeds the rolling average used as rvol's
// denominator.
func (s *State) FeedCompletedBar1m(completed bar.OHLCV) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevClose := s.lastBar1mClose
	if prevClose == 0 {
		prevClose = completed.Close
	}
	if atr := s.rollingATR.Update(indicators.TrueRangeInput{
		High: completed.High, Low: completed.Low, PrevClose: prevClose,
	}); atr != nil {
		s.atr1m = *atr
	}
	s.lastBar1mClose = completed.Close

	avg := s.rollingVol1m.Update(completed.Volume)
	if avg != nil && *avg > 0 {
		s.rvol1m = completed.Volume / *avg
	}
}

// UpdateLast5mValue records close*volume of the most recently completed
// 5-minute bar.
func (s *State) UpdateLast5mValue(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last5mValue = v
}

// SetEntry records the entry fill details on ARMED -> IN_POSITION.
func (s *State) SetEntry(px float64, ts time.Time, qty, structureStop, hardStop float64, regime, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryPx, s.entryTS, s.qty = px, ts, qty
	s.structureStop, s.hardStop = structureStop, hardStop
	s.maxFav = px
	s.trailPx = structureStop
	s.regimeAtEntry = regime
	s.entryOrderID = orderID
}

// UpdateTrailing applies the exit engine's trailing-stop update (spec
// §4.18 step 5), preserving max_fav >= entry_px and trail_px monotonic
// non-decreasing.
func (s *State) UpdateTrailing(maxFav, trailPx float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxFav > s.maxFav {
		s.maxFav = maxFav
	}
	if trailPx > s.trailPx {
		s.trailPx = trailPx
	}
}

// ReconcileFill syncs qty and, if positive, entry_px from an out-of-band
// broker fill observed by the OMS reconciliation loop (C20), without
// touching stops or timestamps a strategy-driven entry would have set.
func (s *State) ReconcileFill(qty, entryPx float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qty = qty
	if entryPx > 0 {
		s.entryPx = entryPx
	}
}

func (s *State) SetSkipReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipReason = reason
}
