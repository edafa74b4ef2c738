package restclient

import (
	"sync"
	"time"

	"github.com/kis-core/execution/internal/metrics"
)

// BreakerState is one of the three canonical circuit-breaker states.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker is a rolling-window failure-counted circuit breaker (spec
// §4.12): it trips to Open after FailureThreshold failures within Window,
// stays Open for CooldownPeriod, then allows one trial call in HalfOpen —
// a success closes it, a failure reopens it.
type Breaker struct {
	mu sync.Mutex

	name              string
	failureThreshold  int
	window            time.Duration
	cooldown          time.Duration
	failureTimestamps []time.Time
	state             BreakerState
	openedAt          time.Time
	halfOpenInFlight  bool
}

// NewBreaker constructs a Breaker in the Closed state.
func NewBreaker(name string, failureThreshold int, window, cooldown time.Duration) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
		state:            Closed,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return b
}

// Allow reports whether a call may proceed right now, and transitions
// Open->HalfOpen once the cooldown has elapsed. Only one trial call is
// admitted while HalfOpen.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = HalfOpen
			b.halfOpenInFlight = false
			metrics.CircuitBreakerState.WithLabelValues(b.name).Set(1)
		} else {
			return false
		}
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
	return false
}

// RecordSuccess clears the failure window and, if this was the HalfOpen
// trial call, closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureTimestamps = nil
	if b.state == HalfOpen {
		b.state = Closed
		b.halfOpenInFlight = false
	}
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(stateMetric(b.state))
}

// RecordFailure registers a failure. In Closed state it trips the breaker
// once FailureThreshold failures have landed inside Window; in HalfOpen it
// immediately reopens.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.state == HalfOpen {
		b.trip(now)
		return
	}

	b.failureTimestamps = append(b.failureTimestamps, now)
	cutoff := now.Add(-b.window)
	kept := b.failureTimestamps[:0]
	for _, ts := range b.failureTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failureTimestamps = kept

	if len(b.failureTimestamps) >= b.failureThreshold {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.halfOpenInFlight = false
	b.failureTimestamps = nil
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(stateMetric(b.state))
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func stateMetric(s BreakerState) float64 {
	switch s {
	case Open:
		return 2
	case HalfOpen:
		return 1
	default:
		return 0
	}
}
