package ratelimit

import "testing"

func TestBudget_UnknownClassRoutesToDefault(t *testing.T) {
	b := NewBudget(nil, nil)
	if b.BucketFor("NOT_A_CLASS") != b.BucketFor(ClassDefault) {
		t.Fatal("expected an unknown class to route to the Default bucket")
	}
}

func TestBudget_OverridesReplaceDefaults(t *testing.T) {
	overrides := map[EndpointClass]ClassConfig{
		ClassOrder: {Capacity: 1, RefillRate: 0},
	}
	b := NewBudget(overrides, nil)
	bucket := b.BucketFor(ClassOrder)
	if bucket.Capacity() != 1 {
		t.Fatalf("Capacity = %v, want overridden 1", bucket.Capacity())
	}
}

func TestBudget_TryConsume_FailsWhenExhausted(t *testing.T) {
	overrides := map[EndpointClass]ClassConfig{
		ClassOrder: {Capacity: 1, RefillRate: 0},
	}
	b := NewBudget(overrides, nil)
	if !b.TryConsume(ClassOrder, "s1", 1) {
		t.Fatal("expected first consume to succeed")
	}
	if b.TryConsume(ClassOrder, "s1", 1) {
		t.Fatal("expected second consume to fail: no refill configured")
	}
}

func TestBudget_CallREST_RunsFnOnlyWhenConsumed(t *testing.T) {
	overrides := map[EndpointClass]ClassConfig{
		ClassOrder: {Capacity: 1, RefillRate: 0},
	}
	b := NewBudget(overrides, nil)

	calls := 0
	fn := func() error { calls++; return nil }

	if err := b.CallREST(ClassOrder, "s1", fn); err != nil {
		t.Fatalf("first CallREST: %v", err)
	}
	if err := b.CallREST(ClassOrder, "s1", fn); err == nil {
		t.Fatal("expected second CallREST to be rate limited")
	}
	if calls != 1 {
		t.Fatalf("fn invoked %d times, want exactly 1", calls)
	}
}
