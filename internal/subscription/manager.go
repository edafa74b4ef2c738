// Package subscription manages the WebSocket registration budget of spec
// §4.14 (C14), adapted from
// original_source/kis_core/ws_client.py's BaseSubscriptionManager.
package subscription

import (
	"math"
	"sort"

	"github.com/kis-core/execution/internal/logging"
	"github.com/kis-core/execution/internal/metrics"
	"github.com/kis-core/execution/internal/symbolstate"
	"github.com/kis-core/execution/internal/ticksize"
	"github.com/kis-core/execution/internal/wsclient"
)

// MaxRegsDefault leaves one slot of KIS's 41-registration hard limit free
// for execution-notification streams.
const MaxRegsDefault = 40

// FocusMax caps the priority focus list RefreshFocusList keeps on warm
// top-of-book subscriptions (spec §4.14).
const FocusMax = 10

// breakoutTickWindow is how close (in ticks) a WAIT_ACCEPTANCE symbol's
// last price must sit to or_high to earn the higher class-1 priority
// (spec §4.14: "within 5 ticks of or_high").
const breakoutTickWindow = 5.0

// focusClass buckets a symbol for RefreshFocusList's priority ranking
// (spec §4.14): class 0 (ARMED/IN_POSITION) always keeps its slot, class
// 1 is a WAIT_ACCEPTANCE symbol close to breaking out, class 2 is any
// other WAIT_ACCEPTANCE symbol, and everything else is out of
// contention.
func focusClass(snap symbolstate.Snapshot, ticks *ticksize.Table) int {
	switch snap.Phase {
	case symbolstate.Armed, symbolstate.InPosition:
		return 0
	case symbolstate.WaitAcceptance:
		tick := ticks.TickSize(snap.LastPrice)
		if tick > 0 && math.Abs(snap.LastPrice-snap.ORHigh)/tick <= breakoutTickWindow {
			return 1
		}
		return 2
	default:
		return 3
	}
}

// RankFocusList ranks live symbol snapshots into the priority-ordered
// focus list RefreshFocusList reconciles subscriptions against, capped at
// FocusMax. Symbols outside class 0-2 are dropped from consideration.
func RankFocusList(snaps []symbolstate.Snapshot, ticks *ticksize.Table) []string {
	ranked := make([]symbolstate.Snapshot, len(snaps))
	copy(ranked, snaps)
	sort.SliceStable(ranked, func(i, j int) bool {
		return focusClass(ranked[i], ticks) < focusClass(ranked[j], ticks)
	})

	focus := make([]string, 0, FocusMax)
	for _, snap := range ranked {
		if focusClass(snap, ticks) == 3 {
			continue
		}
		focus = append(focus, snap.Symbol)
		if len(focus) >= FocusMax {
			break
		}
	}
	return focus
}

// wsClient is the subset of wsclient.Client the Manager depends on.
type wsClient interface {
	TickSubs() []string
	AskBidSubs() []string
	TotalSubs() int
	SubscribeTick(ticker string) bool
	SubscribeAskBid(ticker string) bool
	UnsubscribeTick(ticker string)
	UnsubscribeAskBid(ticker string)
}

// EvictionPolicy picks a ticker to drop to make room for an incoming
// subscription. incoming is excluded from consideration. Returning ""
// means no victim was found.
type EvictionPolicy interface {
	EvictForTick(tickSubs, askSubs []string, incoming string) string
	EvictForAskBid(tickSubs, askSubs []string, incoming string) string
}

// DefaultEvictionPolicy mirrors BaseSubscriptionManager's defaults: evict a
// tick-only subscription (no askbid) to make room for a tick; evict any
// askbid subscription to make room for an askbid.
type DefaultEvictionPolicy struct{}

func (DefaultEvictionPolicy) EvictForTick(tickSubs, askSubs []string, incoming string) string {
	askSet := toSet(askSubs)
	for _, t := range tickSubs {
		if t == incoming {
			continue
		}
		if _, hasAsk := askSet[t]; !hasAsk {
			return t
		}
	}
	return ""
}

func (DefaultEvictionPolicy) EvictForAskBid(tickSubs, askSubs []string, incoming string) string {
	for _, t := range askSubs {
		if t != incoming {
			return t
		}
	}
	return ""
}

func toSet(ss []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		out[s] = struct{}{}
	}
	return out
}

// Manager enforces MaxRegs across both stream types on top of a
// wsclient.Client, evicting lower-priority subscriptions when the budget
// is exhausted.
type Manager struct {
	ws      wsClient
	maxRegs int
	policy  EvictionPolicy
	log     logging.Logger
}

// NewManager builds a Manager. maxRegs above wsclient's hard protocol limit
// (41) is accepted but logged as a misconfiguration, since KIS will reject
// registrations beyond that regardless of what this Manager permits.
func NewManager(ws *wsclient.Client, maxRegs int, policy EvictionPolicy) *Manager {
	if policy == nil {
		policy = DefaultEvictionPolicy{}
	}
	m := &Manager{ws: ws, maxRegs: maxRegs, policy: policy, log: logging.Default().With("subscription")}
	if maxRegs > 41 {
		m.log.Warnf("max_regs=%d exceeds the KIS websocket registration limit of 41; "+
			"subscriptions beyond that will be rejected by the server", maxRegs)
	}
	return m
}

// TotalRegs returns the combined tick+askbid registration count.
func (m *Manager) TotalRegs() int { return m.ws.TotalSubs() }

// EnsureTick guarantees ticker has a tick subscription, evicting a
// lower-priority subscription first if the budget is exhausted. Returns
// false if no room could be made.
func (m *Manager) EnsureTick(ticker string) bool {
	if contains(m.ws.TickSubs(), ticker) {
		return true
	}
	if m.TotalRegs() >= m.maxRegs {
		victim := m.policy.EvictForTick(m.ws.TickSubs(), m.ws.AskBidSubs(), ticker)
		if victim != "" {
			m.ws.UnsubscribeTick(victim)
			metrics.SubscriptionEvictionsTotal.WithLabelValues("tick").Inc()
		}
	}
	if m.TotalRegs() >= m.maxRegs {
		metrics.SubscriptionRejectionsTotal.Inc()
		return false
	}
	ok := m.ws.SubscribeTick(ticker)
	metrics.SubscriptionCount.WithLabelValues("tick").Set(float64(len(m.ws.TickSubs())))
	return ok
}

// EnsureAskBid guarantees ticker has a top-of-book subscription, with the
// same eviction behavior as EnsureTick.
func (m *Manager) EnsureAskBid(ticker string) bool {
	if contains(m.ws.AskBidSubs(), ticker) {
		return true
	}
	if m.TotalRegs() >= m.maxRegs {
		victim := m.policy.EvictForAskBid(m.ws.TickSubs(), m.ws.AskBidSubs(), ticker)
		if victim != "" {
			m.ws.UnsubscribeAskBid(victim)
			metrics.SubscriptionEvictionsTotal.WithLabelValues("orderbook").Inc()
		}
	}
	if m.TotalRegs() >= m.maxRegs {
		metrics.SubscriptionRejectionsTotal.Inc()
		return false
	}
	ok := m.ws.SubscribeAskBid(ticker)
	metrics.SubscriptionCount.WithLabelValues("orderbook").Set(float64(len(m.ws.AskBidSubs())))
	return ok
}

// DropTick releases ticker's tick subscription.
func (m *Manager) DropTick(ticker string) {
	m.ws.UnsubscribeTick(ticker)
	metrics.SubscriptionCount.WithLabelValues("tick").Set(float64(len(m.ws.TickSubs())))
}

// DropAskBid releases ticker's top-of-book subscription.
func (m *Manager) DropAskBid(ticker string) {
	m.ws.UnsubscribeAskBid(ticker)
	metrics.SubscriptionCount.WithLabelValues("orderbook").Set(float64(len(m.ws.AskBidSubs())))
}

// DropAll releases both stream subscriptions for ticker.
func (m *Manager) DropAll(ticker string) {
	m.DropAskBid(ticker)
	m.DropTick(ticker)
}

// RefreshFocusList reconciles the live top-of-book (askbid) subscription
// set against a priority-ordered focus list (spec §4.14, see
// RankFocusList): symbols already subscribed and still on the list are
// left untouched, symbols on the list but not yet subscribed are added
// (subject to budget), and askbid subscriptions held for symbols no
// longer on the list and not in positions are released to free room. Tick
// subscriptions are untouched here; they track the universe, not the
// focus list.
func (m *Manager) RefreshFocusList(focus []string, inPosition map[string]bool) {
	focusSet := toSet(focus)
	for _, t := range m.ws.AskBidSubs() {
		if _, wanted := focusSet[t]; !wanted && !inPosition[t] {
			m.DropAskBid(t)
		}
	}
	for _, ticker := range focus {
		m.EnsureAskBid(ticker)
	}
}

// ReleaseNonPositionSlots drops every tick/askbid subscription not backed
// by an open or working position, freeing budget for the next scan cycle.
func (m *Manager) ReleaseNonPositionSlots(inPosition map[string]bool) {
	for _, t := range m.ws.TickSubs() {
		if !inPosition[t] {
			m.DropTick(t)
		}
	}
	for _, t := range m.ws.AskBidSubs() {
		if !inPosition[t] {
			m.DropAskBid(t)
		}
	}
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
