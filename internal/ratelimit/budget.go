package ratelimit

import (
	"fmt"

	"github.com/kis-core/execution/internal/kiserrors"
	"github.com/kis-core/execution/internal/metrics"
)

// EndpointClass names the rate-budget classes spec §4.8 defines as
// defaults. Unknown class names route to Default.
type EndpointClass string

const (
	ClassQuote   EndpointClass = "QUOTE"
	ClassChart   EndpointClass = "CHART"
	ClassFlow    EndpointClass = "FLOW"
	ClassOrder   EndpointClass = "ORDER"
	ClassBalance EndpointClass = "BALANCE"
	ClassDefault EndpointClass = "DEFAULT"
)

// ClassConfig is the (capacity, refill_rate) override for one endpoint
// class, as exposed in the configuration surface (spec §6).
type ClassConfig struct {
	Capacity   float64
	RefillRate float64
}

// DefaultClassConfigs are conservative defaults; callers override via
// NewBudget's overrides argument per the configuration surface.
var DefaultClassConfigs = map[EndpointClass]ClassConfig{
	ClassQuote:   {Capacity: 20, RefillRate: 15},
	ClassChart:   {Capacity: 10, RefillRate: 5},
	ClassFlow:    {Capacity: 5, RefillRate: 2},
	ClassOrder:   {Capacity: 10, RefillRate: 8},
	ClassBalance: {Capacity: 5, RefillRate: 2},
	ClassDefault: {Capacity: 10, RefillRate: 5},
}

// Budget holds a named mapping of endpoint-class to Bucket (spec §4.8), the
// "explicit registry" design note of §9 replacing the source's dynamic
// attribute attachment.
type Budget struct {
	buckets  map[EndpointClass]*Bucket
	priority *PriorityTable
}

// NewBudget builds a Budget. overrides supplies per-class (capacity,
// refill_rate); any class missing from overrides falls back to
// DefaultClassConfigs. priority may be nil.
func NewBudget(overrides map[EndpointClass]ClassConfig, priority *PriorityTable) *Budget {
	b := &Budget{buckets: make(map[EndpointClass]*Bucket), priority: priority}
	for class, cfg := range DefaultClassConfigs {
		if o, ok := overrides[class]; ok {
			cfg = o
		}
		bucket := NewBucket(cfg.Capacity, cfg.RefillRate)
		if priority != nil {
			bucket.WithPriorityTable(priority)
		}
		b.buckets[class] = bucket
	}
	for class, cfg := range overrides {
		if _, ok := b.buckets[class]; !ok {
			bucket := NewBucket(cfg.Capacity, cfg.RefillRate)
			if priority != nil {
				bucket.WithPriorityTable(priority)
			}
			b.buckets[class] = bucket
		}
	}
	return b
}

// BucketFor returns the bucket registered for class, routing unknown names
// to ClassDefault (spec §4.8 and the explicit-registry design note of §9).
func (b *Budget) BucketFor(class EndpointClass) *Bucket {
	if bucket, ok := b.buckets[class]; ok {
		return bucket
	}
	return b.buckets[ClassDefault]
}

// CallREST attempts try_consume for class/strategyID and, on failure,
// returns kiserrors.ErrRateLimited without blocking. fn is invoked only on
// success, exactly once.
func (b *Budget) CallREST(class EndpointClass, strategyID string, fn func() error) error {
	bucket := b.BucketFor(class)
	if !bucket.TryConsume(1, strategyID) {
		metrics.RateLimitedTotal.WithLabelValues(string(class), strategyID).Inc()
		return fmt.Errorf("%s: %w", class, kiserrors.ErrRateLimited)
	}
	metrics.ConsumedTotal.WithLabelValues(string(class), strategyID).Inc()
	metrics.BucketTokens.WithLabelValues(string(class)).Set(bucket.AvailableTokens())
	return fn()
}

// TryConsume exposes the raw bucket decision for class/strategyID/cost
// without invoking a callback, for callers (e.g. SharedBudget) that need
// finer control than CallREST.
func (b *Budget) TryConsume(class EndpointClass, strategyID string, cost float64) bool {
	bucket := b.BucketFor(class)
	ok := bucket.TryConsume(cost, strategyID)
	if ok {
		metrics.ConsumedTotal.WithLabelValues(string(class), strategyID).Inc()
	} else {
		metrics.RateLimitedTotal.WithLabelValues(string(class), strategyID).Inc()
	}
	metrics.BucketTokens.WithLabelValues(string(class)).Set(bucket.AvailableTokens())
	return ok
}
