package regime

import "testing"

func TestTracker_FirstObservationRebases(t *testing.T) {
	tr := NewTracker(DefaultAlpha)
	tr.Update("KOSPI", 1000)
	if tr.ewmaDelta["KOSPI"] != 0 {
		t.Fatalf("first observation must not produce a delta, got %v", tr.ewmaDelta["KOSPI"])
	}
}

func TestTracker_DeltaAndEWMA(t *testing.T) {
	tr := NewTracker(0.5)
	tr.Update("KOSPI", 1000)
	tr.Update("KOSPI", 1500) // delta 500, ewma = 0.5*500 = 250
	if tr.ewmaDelta["KOSPI"] != 250 {
		t.Fatalf("expected ewma 250, got %v", tr.ewmaDelta["KOSPI"])
	}
	tr.Update("KOSPI", 1700) // delta 200, ewma = 0.5*200 + 0.5*250 = 225
	if tr.ewmaDelta["KOSPI"] != 225 {
		t.Fatalf("expected ewma 225, got %v", tr.ewmaDelta["KOSPI"])
	}
}

func TestTracker_CumulativeResetRebases(t *testing.T) {
	tr := NewTracker(0.5)
	tr.Update("KOSPI", 1000)
	tr.Update("KOSPI", 1500)
	tr.Update("KOSPI", 200) // went backwards: session reset
	if tr.ewmaDelta["KOSPI"] != 0 {
		t.Fatalf("reset must zero the ewma, got %v", tr.ewmaDelta["KOSPI"])
	}
	if tr.prevCum["KOSPI"] != 200 {
		t.Fatalf("reset must rebase prev_cum, got %v", tr.prevCum["KOSPI"])
	}
}

func TestRegimeClassification(t *testing.T) {
	cases := []struct {
		kospi, kosdaq float64
		want          Label
	}{
		{10, 10, StrongInflow},
		{-10, -10, Outflow},
		{10, -10, Mixed},
		{0, 0, Mixed},
	}
	for _, c := range cases {
		tr := NewTracker(1.0)
		tr.ewmaDelta["KOSPI"] = c.kospi
		tr.ewmaDelta["KOSDAQ"] = c.kosdaq
		if got := tr.Regime(); got != c.want {
			t.Errorf("kospi=%v kosdaq=%v: expected %s, got %s", c.kospi, c.kosdaq, c.want, got)
		}
	}
}

func TestMultiplierMapping(t *testing.T) {
	tr := NewTracker(1.0)
	tr.Update("KOSPI", 0)
	tr.Update("KOSPI", 10)
	tr.Update("KOSDAQ", 0)
	tr.Update("KOSDAQ", 10)
	if tr.Multiplier() != 1.10 {
		t.Fatalf("expected 1.10 for strong_inflow, got %v", tr.Multiplier())
	}
}
