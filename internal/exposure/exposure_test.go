package exposure

import "testing"

func sectorMap() map[string]string {
	return map[string]string{
		"005930": "IT",
		"000660": "IT",
		"051910": "Chemicals",
	}
}

func TestCanEnter_CountModeBlocksAtCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeCount
	cfg.MaxPositionsPerSector = 1
	e := New(sectorMap(), cfg)

	e.Reserve("005930", 10, 80000)
	if e.CanEnter("000660", 100, 80000, 1e8) {
		t.Fatal("expected can_enter to block: sector IT already at working cap")
	}

	e.Unreserve("005930", 10, 80000)
	if !e.CanEnter("000660", 100, 80000, 1e8) {
		t.Fatal("expected can_enter to allow after unreserve frees the slot")
	}
}

func TestCanEnter_UnknownSectorPolicy(t *testing.T) {
	e := New(sectorMap(), DefaultConfig())
	if !e.CanEnter("999999", 10, 1000, 1e8) {
		t.Fatal("default policy is allow for unmapped symbols")
	}

	blocking := DefaultConfig()
	blocking.UnknownSectorPolicy = UnknownBlock
	e2 := New(sectorMap(), blocking)
	if e2.CanEnter("999999", 10, 1000, 1e8) {
		t.Fatal("block policy must reject unmapped symbols")
	}
}

func TestCanEnter_PctModeRequiresPositiveEquity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModePct
	cfg.MaxSectorPct = 0.10
	e := New(sectorMap(), cfg)

	if !e.CanEnter("005930", 1000, 80000, 0) {
		t.Fatal("pct check must no-op when equity is not positive")
	}
}

func TestReserveUnreserveSaturateAtZero(t *testing.T) {
	e := New(sectorMap(), DefaultConfig())
	e.Unreserve("005930", 5, 1000)
	e.OnClose("005930", 5, 1000)

	if e.workingCount["IT"] != 0 || e.workingNotional["IT"] != 0 {
		t.Fatal("working counters must never go negative")
	}
	if e.openCount["IT"] != 0 || e.openNotional["IT"] != 0 {
		t.Fatal("open counters must never go negative")
	}
}

func TestOnFillMovesWorkingToOpen(t *testing.T) {
	e := New(sectorMap(), DefaultConfig())
	e.Reserve("005930", 10, 80000)
	e.OnFill("005930", 10, 80000)

	if e.workingCount["IT"] != 0 {
		t.Fatalf("working count should be released on fill, got %d", e.workingCount["IT"])
	}
	if e.openCount["IT"] != 1 {
		t.Fatalf("open count should be incremented on fill, got %d", e.openCount["IT"])
	}
	if e.openNotional["IT"] != 800000 {
		t.Fatalf("open notional should carry the filled notional, got %f", e.openNotional["IT"])
	}
}

func TestReconcileRebuildsFromOMSTruth(t *testing.T) {
	e := New(sectorMap(), DefaultConfig())
	e.Reserve("005930", 10, 80000)
	e.OnFill("000660", 5, 50000)

	e.Reconcile(
		map[string]Position{"000660": {Qty: 5, Px: 50000}},
		map[string]bool{"051910": true},
	)

	if e.openCount["IT"] != 1 || e.openNotional["IT"] != 250000 {
		t.Fatalf("open IT state not rebuilt correctly: count=%d notional=%f", e.openCount["IT"], e.openNotional["IT"])
	}
	if e.workingCount["IT"] != 0 {
		t.Fatalf("stale IT working reservation must be cleared by reconcile, got %d", e.workingCount["IT"])
	}
	if e.workingCount["Chemicals"] != 1 {
		t.Fatalf("working_symbols entries must be rebuilt, got %d", e.workingCount["Chemicals"])
	}
}
