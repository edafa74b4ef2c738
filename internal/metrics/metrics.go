// Package metrics is the Prometheus surface for the execution substrate.
// Structure adapted from the teacher's SynapseStrike/metrics/metrics.go
// (custom registry, promauto constructors, namespace/subsystem/name
// convention, small Update*/Record* helpers) re-keyed from P&L/AI-call
// labels onto rate-budget, subscription, sector-exposure, FSM-transition and
// OMS-reconciliation labels.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry is the custom prometheus registry for the execution substrate.
	Registry = prometheus.NewRegistry()

	// ============================================
	// Rate budget (C7-C9)
	// ============================================

	BucketTokens = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "ratebudget", Name: "tokens",
			Help: "Current token count in a bucket after the last try_consume",
		},
		[]string{"endpoint_class"},
	)

	RateLimitedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "ratebudget", Name: "rate_limited_total",
			Help: "Number of try_consume calls that failed due to insufficient tokens",
		},
		[]string{"endpoint_class", "strategy_id"},
	)

	ConsumedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "ratebudget", Name: "consumed_total",
			Help: "Number of successful try_consume calls",
		},
		[]string{"endpoint_class", "strategy_id"},
	)

	SharedBudgetLockFailuresTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "ratebudget", Name: "shared_lock_failures_total",
			Help: "Times the cross-process state file could not be opened/locked, falling back to in-memory",
		},
	)

	// ============================================
	// Subscription budget (C14)
	// ============================================

	SubscriptionCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "subscription", Name: "count",
			Help: "Current subscription count by stream kind",
		},
		[]string{"kind"}, // tick | orderbook
	)

	SubscriptionEvictionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "subscription", Name: "evictions_total",
			Help: "Evictions performed to free a subscription slot",
		},
		[]string{"kind"},
	)

	SubscriptionRejectionsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "subscription", Name: "rejections_total",
			Help: "ensure_tick/ensure_askbid calls that failed even after eviction",
		},
	)

	// ============================================
	// Sector exposure (C16)
	// ============================================

	SectorOpenCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "exposure", Name: "open_count",
			Help: "Open position count per sector",
		},
		[]string{"sector"},
	)

	SectorWorkingCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "exposure", Name: "working_count",
			Help: "Reserved (working) position count per sector",
		},
		[]string{"sector"},
	)

	SectorOpenNotional = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "exposure", Name: "open_notional",
			Help: "Open notional per sector",
		},
		[]string{"sector"},
	)

	SectorWorkingNotional = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "exposure", Name: "working_notional",
			Help: "Working (reserved) notional per sector",
		},
		[]string{"sector"},
	)

	// ============================================
	// Per-symbol FSM (C18)
	// ============================================

	FSMTransitionsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "fsm", Name: "transitions_total",
			Help: "FSM state transitions",
		},
		[]string{"from", "to"},
	)

	FSMSymbolsInState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "fsm", Name: "symbols_in_state",
			Help: "Number of symbols currently in a given FSM state",
		},
		[]string{"state"},
	)

	ExitsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "fsm", Name: "exits_total",
			Help: "Exit intents emitted, by reason",
		},
		[]string{"reason"},
	)

	// ============================================
	// OMS reconciliation (C20)
	// ============================================

	ReconcileRunsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "oms", Name: "reconcile_runs_total",
			Help: "Number of reconciliation loop iterations",
		},
	)

	ReconcileForcedInPositionTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "oms", Name: "forced_in_position_total",
			Help: "Symbols forced IN_POSITION because the broker held them out of band",
		},
	)

	ReconcileExternalCloseTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "kis", Subsystem: "oms", Name: "external_close_total",
			Help: "IN_POSITION symbols transitioned to DONE because broker qty went to zero",
		},
	)

	// ============================================
	// REST / circuit breaker (C12)
	// ============================================

	CircuitBreakerState = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kis", Subsystem: "restclient", Name: "circuit_state",
			Help: "0=closed 1=half_open 2=open",
		},
		[]string{"operation"},
	)

	RestCallDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kis", Subsystem: "restclient", Name: "call_duration_seconds",
			Help:    "REST call duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation", "outcome"},
	)
)

// Init registers standard Go/process collectors, mirroring the teacher's
// metrics.Init().
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
