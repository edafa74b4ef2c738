// Package ratelimit implements the token bucket and priority-window
// coordinator of spec §4.7 (C7), the in-process per-endpoint-class rate
// budget of §4.8 (C8), and the cross-process file-locked shared budget of
// §4.9 (C9).
package ratelimit

import (
	"sync"
	"time"
)

const (
	// Boost is the multiplier granted to the strategy owning the active
	// priority window.
	Boost = 2.0
	// Penalty is the multiplier applied to every other strategy while a
	// window is active.
	Penalty = 0.5
	// Neutral is the multiplier when no window is active for anyone.
	Neutral = 1.0
)

// Window is a half-open [Start, End) interval in local trading-day time,
// expressed as seconds since local midnight for comparison simplicity.
type Window struct {
	Start time.Duration
	End   time.Duration
}

func (w Window) contains(tod time.Duration) bool {
	return tod >= w.Start && tod < w.End
}

// PriorityTable is the static strategy-id -> window-list mapping of spec
// §3. At most one window is active per strategy per instant; overlapping
// windows across strategies are permitted.
type PriorityTable struct {
	windows map[string][]Window
}

// NewPriorityTable builds a PriorityTable from a strategy -> windows map.
func NewPriorityTable(windows map[string][]Window) *PriorityTable {
	cp := make(map[string][]Window, len(windows))
	for k, v := range windows {
		cp[k] = append([]Window(nil), v...)
	}
	return &PriorityTable{windows: cp}
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// ActiveStrategy returns the strategy id that owns the window active at now,
// and true, or ("", false) if no strategy has an active window.
// If more than one strategy's windows both contain now (a misconfiguration
// the spec does not rule out across strategies, only within one), the first
// match in map iteration order wins — callers should keep windows
// non-overlapping across strategies in practice.
func (p *PriorityTable) ActiveStrategy(now time.Time) (string, bool) {
	tod := timeOfDay(now)
	for strategyID, windows := range p.windows {
		for _, w := range windows {
			if w.contains(tod) {
				return strategyID, true
			}
		}
	}
	return "", false
}

// Multiplier returns the effective multiplier for strategyID at now given
// the active-window state.
func (p *PriorityTable) Multiplier(strategyID string, now time.Time) float64 {
	active, ok := p.ActiveStrategy(now)
	if !ok {
		return Neutral
	}
	if active == strategyID {
		return Boost
	}
	return Penalty
}

// nowFunc is overridable in tests.
type nowFunc func() time.Time

// Bucket is a capacity+refill token bucket (spec §4.7 step 1) with an
// optional PriorityTable applied per try_consume call (step 2-3).
type Bucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	priority *PriorityTable
	now      nowFunc
}

// NewBucket constructs a Bucket starting full (tokens = capacity).
func NewBucket(capacity float64, refillRate float64) *Bucket {
	return &Bucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// WithPriorityTable attaches a priority table used by TryConsume's
// strategyID argument. Returns the same Bucket for chaining.
func (b *Bucket) WithPriorityTable(p *PriorityTable) *Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priority = p
	return b
}

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 0 {
		b.tokens = 0
	}
	b.lastRefill = now
}

// TryConsume attempts to consume cost tokens for strategyID. It refills
// first, determines the priority multiplier, divides cost by it, and
// subtracts on success. Never suspends. Returns false without mutating
// tokens on insufficient balance.
func (b *Bucket) TryConsume(cost float64, strategyID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	m := Neutral
	if b.priority != nil {
		m = b.priority.Multiplier(strategyID, b.now())
	}
	effective := cost / m

	if b.tokens >= effective {
		b.tokens -= effective
		return true
	}
	return false
}

// AvailableTokens returns the current token count after a refill, without
// consuming anything.
func (b *Bucket) AvailableTokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Capacity returns the bucket's configured capacity.
func (b *Bucket) Capacity() float64 { return b.capacity }

// RefillRate returns the bucket's configured refill rate.
func (b *Bucket) RefillRate() float64 { return b.refillRate }

// snapshot/restore support the shared (cross-process) budget's
// open-lock-read-mutate-write-unlock transaction (C9): it needs to load a
// persisted bucket state into an in-memory Bucket, perform TryConsume, then
// serialize the result back out.

// State is the serializable bucket snapshot persisted by SharedBudget.
type State struct {
	Tokens     float64   `json:"tokens"`
	LastRefill int64     `json:"last_refill"`
	Capacity   float64   `json:"capacity"`
	RefillRate float64   `json:"refill_rate"`
}

// Snapshot captures the bucket's current state without refilling.
func (b *Bucket) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Tokens:     b.tokens,
		LastRefill: b.lastRefill.Unix(),
		Capacity:   b.capacity,
		RefillRate: b.refillRate,
	}
}

// LoadState overwrites the bucket's internal state from a persisted
// snapshot.
func (b *Bucket) LoadState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = s.Tokens
	b.lastRefill = time.Unix(s.LastRefill, 0)
	b.capacity = s.Capacity
	b.refillRate = s.RefillRate
}

// NewBucketFromState builds a Bucket directly from a persisted snapshot.
func NewBucketFromState(s State) *Bucket {
	return &Bucket{
		capacity:   s.Capacity,
		refillRate: s.RefillRate,
		tokens:     s.Tokens,
		lastRefill: time.Unix(s.LastRefill, 0),
		now:        time.Now,
	}
}
