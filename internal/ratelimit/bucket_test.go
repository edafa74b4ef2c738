package ratelimit

import (
	"testing"
	"time"
)

func fixedClock(start time.Time) (nowFunc, func(d time.Duration)) {
	cur := start
	return func() time.Time { return cur }, func(d time.Duration) { cur = cur.Add(d) }
}

func newTestBucket(capacity, refillRate float64, start time.Time) (*Bucket, func(time.Duration)) {
	now, advance := fixedClock(start)
	b := &Bucket{capacity: capacity, refillRate: refillRate, tokens: capacity, lastRefill: start, now: now}
	return b, advance
}

func TestBucket_TryConsume_DepletesAndRefills(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	b, advance := newTestBucket(2, 1, start)

	if !b.TryConsume(1, "") {
		t.Fatal("expected first consume to succeed")
	}
	if !b.TryConsume(1, "") {
		t.Fatal("expected second consume to succeed (capacity=2)")
	}
	if b.TryConsume(1, "") {
		t.Fatal("expected third consume to fail: bucket is empty")
	}

	advance(2 * time.Second)
	if !b.TryConsume(1, "") {
		t.Fatal("expected consume to succeed after refill (2 tokens/2s at rate 1)")
	}
}

func TestBucket_AvailableTokens_CapsAtCapacity(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	b, advance := newTestBucket(5, 10, start)
	b.TryConsume(5, "")
	advance(10 * time.Second)
	if got := b.AvailableTokens(); got != 5 {
		t.Fatalf("AvailableTokens = %v, want capped at capacity 5", got)
	}
}

// TestPriorityTable_BoostAndPenalty exercises the priority window scenario:
// the strategy owning the active window gets Boost, every other strategy
// gets Penalty, and outside any window everyone gets Neutral.
func TestPriorityTable_BoostAndPenalty(t *testing.T) {
	windows := map[string][]Window{
		"breakout": {{Start: 9 * time.Hour, End: 9*time.Hour + 30*time.Minute}},
	}
	pt := NewPriorityTable(windows)

	inWindow := time.Date(2026, 7, 30, 9, 10, 0, 0, time.UTC)
	outOfWindow := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	if got := pt.Multiplier("breakout", inWindow); got != Boost {
		t.Fatalf("owner multiplier in-window = %v, want Boost", got)
	}
	if got := pt.Multiplier("meanrevert", inWindow); got != Penalty {
		t.Fatalf("non-owner multiplier in-window = %v, want Penalty", got)
	}
	if got := pt.Multiplier("breakout", outOfWindow); got != Neutral {
		t.Fatalf("multiplier outside any window = %v, want Neutral", got)
	}
}

func TestPriorityTable_ActiveStrategy(t *testing.T) {
	windows := map[string][]Window{
		"breakout": {{Start: 9 * time.Hour, End: 9*time.Hour + 30*time.Minute}},
	}
	pt := NewPriorityTable(windows)

	if _, ok := pt.ActiveStrategy(time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)); ok {
		t.Fatal("expected no active strategy outside any window")
	}
	id, ok := pt.ActiveStrategy(time.Date(2026, 7, 30, 9, 5, 0, 0, time.UTC))
	if !ok || id != "breakout" {
		t.Fatalf("ActiveStrategy in-window = (%q, %v), want (breakout, true)", id, ok)
	}
}

func TestBucket_TryConsume_AppliesPriorityMultiplier(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 10, 0, 0, time.UTC)
	windows := map[string][]Window{
		"breakout": {{Start: 9 * time.Hour, End: 9*time.Hour + 30*time.Minute}},
	}
	pt := NewPriorityTable(windows)

	b, _ := newTestBucket(1, 0, start)
	b.WithPriorityTable(pt)

	// cost 1 at Boost (2.0) effective cost is 0.5; a 1-token bucket can
	// afford it twice before running dry.
	if !b.TryConsume(1, "breakout") {
		t.Fatal("expected boosted consume to succeed")
	}
	if !b.TryConsume(1, "breakout") {
		t.Fatal("expected second boosted consume to succeed (0.5 + 0.5 = 1.0)")
	}
	if b.TryConsume(1, "breakout") {
		t.Fatal("expected third boosted consume to fail: bucket exhausted")
	}
}

func TestBucket_SnapshotAndLoadStateRoundTrip(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	b, _ := newTestBucket(10, 5, start)
	b.TryConsume(3, "")

	snap := b.Snapshot()
	restored := NewBucketFromState(snap)
	if restored.Snapshot().Tokens != 7 {
		t.Fatalf("restored tokens = %v, want 7", restored.Snapshot().Tokens)
	}
}
