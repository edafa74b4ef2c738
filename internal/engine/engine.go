// Package engine wires every other package in this module into the
// running substrate (spec §2's data-flow loop): auth/session, REST and
// WebSocket transport, subscription budget, tick dispatch, per-symbol
// FSM drive, sector exposure, program-flow regime, and OMS
// reconciliation. Grounded on SynapseStrike/trader/auto_trader.go's
// Run/runCycle orchestration shape, adapted from a single-exchange
// AI-trading loop to this module's tick-driven, rule-based pipeline.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kis-core/execution/internal/auth"
	"github.com/kis-core/execution/internal/calendar"
	"github.com/kis-core/execution/internal/config"
	"github.com/kis-core/execution/internal/dispatch"
	"github.com/kis-core/execution/internal/exposure"
	"github.com/kis-core/execution/internal/fsm"
	"github.com/kis-core/execution/internal/logging"
	"github.com/kis-core/execution/internal/oms"
	"github.com/kis-core/execution/internal/ratelimit"
	"github.com/kis-core/execution/internal/regime"
	"github.com/kis-core/execution/internal/restclient"
	"github.com/kis-core/execution/internal/subscription"
	"github.com/kis-core/execution/internal/symbolstate"
	"github.com/kis-core/execution/internal/ticksize"
	"github.com/kis-core/execution/internal/universe"
	"github.com/kis-core/execution/internal/wsclient"
)

// tickInterval is the engine's own drive-loop cadence: it advances
// WAIT_ACCEPTANCE timeouts and the IN_POSITION exit engine for every
// armed/held symbol, independent of the tick-driven dispatch path that
// updates indicator state (spec §4.18 runs "on every tick or at least
// once per second").
const tickInterval = 1 * time.Second

// orLockAfterMinutes is how long after session start the opening range is
// locked (spec §4.18: "at OR-lock time (09:15 local)"). The engine clocks
// minutes-since-open off its own driveLoop sessionStart rather than a
// wall-clock KST check, consistent with the minutes-since-open gates
// already used for surge decay (fsm/gates.go) and risk sizing.
const orLockAfterMinutes = 15.0

// focusRefreshInterval is how often the subscription budget manager's
// top-of-book focus list is recomputed from live FSM state (spec §4.14).
const focusRefreshInterval = 5 * time.Second

// markets is the fixed pair of domestic equity markets the regime
// tracker aggregates program-flow over (spec §4.19).
var markets = []string{"KOSPI", "KOSDAQ"}

// Engine owns every component instance for one trading session and
// drives them against the clock.
type Engine struct {
	cfg *config.Config
	log logging.Logger

	authEnv    *auth.Env
	budget     *ratelimit.Budget
	rest       *restclient.Client
	marketData *restMarketData

	ws   *wsclient.Client
	subs *subscription.Manager

	registry   *Registry
	dispatcher *dispatch.Dispatcher
	machine    *fsm.Machine
	ticks      *ticksize.Table

	exposure *exposure.Exposure
	regime   *regime.Tracker
	recon    *oms.Reconciler

	calendar *calendar.Calendar
}

// New builds an Engine from a loaded configuration. It fetches the initial
// access token and WebSocket approval key through auth.New; call Run to
// connect the WebSocket and start trading.
func New(cfg *config.Config) (*Engine, error) {
	authEnv, err := auth.New(cfg.AuthConfig())
	if err != nil {
		return nil, fmt.Errorf("engine: auth.New: %w", err)
	}

	budget := ratelimit.NewBudget(cfg.RateClassOverrides(), nil)
	rest := restclient.NewClient(authEnv, budget, nil)
	marketData := newRestMarketData(rest)

	registry := NewRegistry()
	dispatcher := dispatch.NewDispatcher(registry)

	ws := wsclient.NewClient(buildSendData(authEnv, cfg.Broker.CustType), wsclient.DefaultConfig)
	dispatcher.Attach(ws)
	subs := subscription.NewManager(ws, subscription.MaxRegsDefault, nil)

	holidays, err := cfg.HolidayDates()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	cal := calendar.New(holidays)

	exp := exposure.New(cfg.Sectors, cfg.ExposureConfig(exposure.ModeBoth, 2, 0.30))
	regimeTracker := regime.NewTracker(regime.DefaultAlpha)

	machine := fsm.NewMachine(ticksize.NewDefaultTable(), cfg.FSMSwitches())

	recon := oms.NewReconciler(marketData, registry, exp)

	return &Engine{
		cfg:        cfg,
		log:        logging.Default().With("engine"),
		authEnv:    authEnv,
		budget:     budget,
		rest:       rest,
		marketData: marketData,
		ws:         ws,
		subs:       subs,
		registry:   registry,
		dispatcher: dispatcher,
		machine:    machine,
		ticks:      ticksize.NewDefaultTable(),
		exposure:   exp,
		regime:     regimeTracker,
		recon:      recon,
		calendar:   cal,
	}, nil
}

// buildSendData closes over the auth.Env and custtype to build KIS's
// websocket subscribe/unsubscribe frame, grounded on the standard KIS
// {header:{approval_key,custtype,tr_type,content-type}, body:{input:{tr_id,tr_key}}}
// envelope documented for every KIS real-time stream.
func buildSendData(env *auth.Env, custtype string) wsclient.SendDataFunc {
	return func(cmd int, stockCode string) (string, error) {
		return buildSubscribeFrame(env.ApprovalKey(), custtype, cmd, stockCode)
	}
}

// buildSubscribeFrame encodes one KIS websocket subscribe/unsubscribe
// frame. Factored out of buildSendData so it can be tested without a live
// auth.Env.
func buildSubscribeFrame(approvalKey, custtype string, cmd int, stockCode string) (string, error) {
	var trID, trType string
	switch cmd {
	case 1, 2: // askbid subscribe / unsubscribe
		trID = wsclient.TrIDAskBid
	case 3, 4: // tick subscribe / unsubscribe
		trID = wsclient.TrIDTick
	default:
		return "", fmt.Errorf("wsclient: unknown command %d", cmd)
	}
	if cmd == 1 || cmd == 3 {
		trType = "1"
	} else {
		trType = "2"
	}

	frame := map[string]any{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     custtype,
			"tr_type":      trType,
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trID,
				"tr_key": stockCode,
			},
		},
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("wsclient: encoding subscribe frame: %w", err)
	}
	return string(raw), nil
}

// BuildUniverse runs the universe pre-filter over candidates and seeds the
// registry with one symbolstate.State per surviving ticker, anchored on
// the supplied premarket reference prices. Returns the rejection list for
// audit/logging.
func (e *Engine) BuildUniverse(ctx context.Context, candidates []string, anchors map[string]symbolAnchors) ([]universe.Rejection, error) {
	e.releaseNonPositionSlots()
	survivors, rejections := universe.Filter(ctx, e.marketData, e.marketData, candidates, e.cfg.UniverseFilterConfig())
	for _, sym := range survivors {
		a := anchors[sym]
		sector := e.exposure.GetSector(sym)
		st := symbolstate.New(sym, sector, a.Anchor20, a.Anchor60, a.PrevClose)
		st.SetTrendOK(trendAnchorOK(a))
		e.registry.Add(st)
	}
	return rejections, nil
}

// symbolAnchors carries the premarket reference levels a symbol's State
// is seeded with (spec §4.18's trend anchors).
type symbolAnchors struct {
	Anchor20  float64
	Anchor60  float64
	PrevClose float64
}

// trendAnchorOK evaluates the admission trend-anchor gate (spec §4.18:
// "admitted by premarket scan (trend-anchor + value-surge)"), grounded on
// original_source/strategy_kmp/core/scanner.py's apply_trend_anchor:
// prior close above the 20-day anchor, with the 20-day anchor at or above
// the 60-day anchor.
func trendAnchorOK(a symbolAnchors) bool {
	if a.Anchor20 <= 0 || a.Anchor60 <= 0 {
		return false
	}
	return a.PrevClose > a.Anchor20 && a.Anchor20 >= a.Anchor60
}

// Run starts every background loop (WebSocket read loop, regime poller,
// OMS reconciler) under an errgroup and drives the per-symbol FSM tick
// loop until ctx is canceled, mirroring
// SynapseStrike/trader/auto_trader.go's Run ticker pattern; the
// errgroup supervision itself follows stadam23-Eve-flipper's worker
// pattern of golang.org/x/sync/errgroup over ad hoc goroutines, so a
// background loop returning an error cancels ctx for every sibling instead of
// leaking a half-stopped engine.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infof("engine starting: %d symbols in universe", len(e.registry.Symbols()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := e.ws.Run(ctx, true); err != nil && ctx.Err() == nil {
			return fmt.Errorf("websocket loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		e.regime.Run(ctx, e.marketData, markets)
		return nil
	})
	g.Go(func() error {
		e.recon.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return e.driveLoop(ctx)
	})
	g.Go(func() error {
		return e.focusLoop(ctx)
	})

	for _, sym := range e.registry.Symbols() {
		e.subs.EnsureTick(sym)
		e.subs.EnsureAskBid(sym)
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	e.log.Infof("engine stopping: %v", ctx.Err())
	return nil
}

// driveLoop ticks the per-symbol FSM drive until ctx is canceled.
func (e *Engine) driveLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	sessionStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.driveOnce(now, sessionStart)
		}
	}
}

// driveOnce advances every tracked symbol's FSM by one tick: admits IDLE
// candidates, locks the opening range and filters CANDIDATEs once
// orLockAfterMinutes has elapsed, evaluates the WATCH_BREAK/WAIT_ACCEPTANCE
// gates against the live last-trade price, and runs the exit engine for
// IN_POSITION holds. Entry order placement and fill confirmation are left
// to the caller wiring a Broker-specific execution path onto
// OnEntryFill/OnExitFill; this loop only advances state that depends on
// the clock and the latest snapshot.
func (e *Engine) driveOnce(now time.Time, sessionStart time.Time) {
	minutesSinceOpen := now.Sub(sessionStart).Minutes()
	riskOff := e.regime.Multiplier() <= 0.70

	for _, sym := range e.registry.Symbols() {
		st, ok := e.registry.Get(sym)
		if !ok {
			continue
		}
		snap := st.Snapshot()

		switch snap.Phase {
		case symbolstate.Idle:
			e.machine.TryAdmit(st)
		case symbolstate.Candidate:
			if minutesSinceOpen >= orLockAfterMinutes {
				e.machine.LockAndFilter(st)
			}
		case symbolstate.WatchBreak:
			e.machine.TryBreak(st, snap.LastPrice, now)
		case symbolstate.WaitAcceptance:
			result := e.machine.TickWaitAcceptance(st, snap.LastPrice, now)
			if result.Accepted {
				e.armSymbol(st, minutesSinceOpen)
			}
		case symbolstate.InPosition:
			e.machine.Tick(st, snap.LastPrice, string(e.regime.Regime()), riskOff, now)
		}
	}
}

// releaseNonPositionSlots frees every subscription slot not backed by an
// open or working position, ahead of rebuilding the universe for the next
// scan cycle (spec §4.14's release_non_position_slots).
func (e *Engine) releaseNonPositionSlots() {
	e.subs.ReleaseNonPositionSlots(e.inPositionSet())
}

// inPositionSet reports, per symbol, whether it currently holds a working
// or open slot (ARMED reserves the slot, IN_POSITION holds it).
func (e *Engine) inPositionSet() map[string]bool {
	inPosition := make(map[string]bool)
	for _, sym := range e.registry.Symbols() {
		st, ok := e.registry.Get(sym)
		if !ok {
			continue
		}
		switch st.Phase() {
		case symbolstate.Armed, symbolstate.InPosition:
			inPosition[sym] = true
		}
	}
	return inPosition
}

// focusLoop periodically recomputes the subscription budget manager's
// top-of-book focus list from live FSM state until ctx is canceled (spec
// §4.14's refresh_focus_list).
func (e *Engine) focusLoop(ctx context.Context) error {
	ticker := time.NewTicker(focusRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.refreshFocusOnce()
		}
	}
}

// refreshFocusOnce ranks every tracked symbol's current snapshot and
// reconciles the askbid subscription set against it.
func (e *Engine) refreshFocusOnce() {
	snaps := make([]symbolstate.Snapshot, 0, len(e.registry.Symbols()))
	for _, sym := range e.registry.Symbols() {
		st, ok := e.registry.Get(sym)
		if !ok {
			continue
		}
		snaps = append(snaps, st.Snapshot())
	}
	focus := subscription.RankFocusList(snaps, e.ticks)
	e.subs.RefreshFocusList(focus, e.inPositionSet())
}

// armSymbol runs the sizing pipeline for a symbol that has just been
// accepted, gating on sector exposure before arming.
func (e *Engine) armSymbol(st *symbolstate.State, minutesSinceOpen float64) {
	snap := st.Snapshot()
	equity := 0.0 // supplied by the account-balance poller in a full deployment
	entryPx := snap.LastPrice

	sizing := fsm.SizingInputs{
		Equity:      equity,
		EntryPx:     entryPx,
		StopPx:      snap.ORLow,
		ProgramMult: e.regime.Multiplier(),
		Last5mValue: snap.Last5mValue,
	}

	if !e.exposure.CanEnter(st.Symbol(), 0, entryPx, equity) {
		e.machine.ForceDone(st, "SECTOR_EXPOSURE_BLOCKED")
		return
	}

	qty, armed := e.machine.Arm(st, sizing, minutesSinceOpen)
	if armed {
		e.exposure.Reserve(st.Symbol(), qty, entryPx)
	}
}
