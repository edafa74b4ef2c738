package metrics

import "testing"

func TestInit_RegistersProcessCollectorsOnce(t *testing.T) {
	Init()
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "go_goroutines" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected go_goroutines metric after Init registers the Go collector")
	}
}

func TestFSMTransitionsTotal_IncrementsPerLabelPair(t *testing.T) {
	FSMTransitionsTotal.WithLabelValues("WATCH_BREAK", "WAIT_ACCEPTANCE").Inc()
	FSMTransitionsTotal.WithLabelValues("WATCH_BREAK", "WAIT_ACCEPTANCE").Inc()

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var got float64
	for _, mf := range mfs {
		if mf.GetName() != "kis_fsm_transitions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				_ = l
			}
			got += m.GetCounter().GetValue()
		}
	}
	if got < 2 {
		t.Fatalf("kis_fsm_transitions_total total = %v, want at least 2", got)
	}
}

func TestSubscriptionCount_SetsGaugeByKind(t *testing.T) {
	SubscriptionCount.WithLabelValues("orderbook").Set(7)

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var got float64
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "kis_subscription_count" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == "orderbook" {
					found = true
					got = m.GetGauge().GetValue()
				}
			}
		}
	}
	if !found {
		t.Fatal("expected a kind=orderbook series for kis_subscription_count")
	}
	if got != 7 {
		t.Fatalf("gauge value = %v, want 7", got)
	}
}
