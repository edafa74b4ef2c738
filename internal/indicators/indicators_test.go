package indicators

import "testing"

func TestSMA_Basic(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("SMA len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SMA[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSMA_ShorterThanPeriodIsEmpty(t *testing.T) {
	if got := SMA([]float64{1, 2}, 3); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestEMA_SeededWithSMA(t *testing.T) {
	got := EMA([]float64{1, 2, 3, 4, 5}, 3)
	if len(got) != 3 {
		t.Fatalf("EMA len = %d, want 3", len(got))
	}
	if got[0] != 2 {
		t.Fatalf("EMA seed = %v, want SMA(1,2,3)=2", got[0])
	}
}

func TestTrueRange_UsesWidestSpan(t *testing.T) {
	tr := TrueRange(TrueRangeInput{High: 110, Low: 95, PrevClose: 120})
	if tr != 25 {
		t.Fatalf("TrueRange = %v, want 25 (|95-120|)", tr)
	}
}

func TestATR_MatchesSMAOfTrueRange(t *testing.T) {
	inputs := []TrueRangeInput{
		{High: 10, Low: 8, PrevClose: 9},
		{High: 11, Low: 9, PrevClose: 10},
		{High: 12, Low: 10, PrevClose: 11},
	}
	got := ATR(inputs, 2)
	if len(got) != 2 {
		t.Fatalf("ATR len = %d, want 2", len(got))
	}
}

func TestPercentileRank_TiesCountAsLessEqual(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5}
	if got := PercentileRank(sample, 3); got != 60 {
		t.Fatalf("PercentileRank = %v, want 60", got)
	}
}

func TestPercentileRank_Empty(t *testing.T) {
	if got := PercentileRank(nil, 5); got != 0 {
		t.Fatalf("expected 0 for empty sample, got %v", got)
	}
}

func TestZScore_ZeroVarianceIsZero(t *testing.T) {
	if got := ZScore([]float64{5, 5, 5}, 5); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestRollingSMA_NilUntilWarmed(t *testing.T) {
	r := NewRollingSMA(3)
	if v := r.Update(1); v != nil {
		t.Fatalf("expected nil before window warms, got %v", *v)
	}
	if v := r.Update(2); v != nil {
		t.Fatalf("expected nil before window warms, got %v", *v)
	}
	v := r.Update(3)
	if v == nil {
		t.Fatal("expected a value once window is warmed")
	}
	if *v != 2 {
		t.Fatalf("RollingSMA = %v, want 2", *v)
	}
}

func TestRollingSMA_SlidesWindow(t *testing.T) {
	r := NewRollingSMA(2)
	r.Update(10)
	v := r.Update(20)
	if *v != 15 {
		t.Fatalf("RollingSMA = %v, want 15", *v)
	}
	v = r.Update(30)
	if *v != 25 {
		t.Fatalf("RollingSMA after slide = %v, want 25", *v)
	}
}

func TestRollingATR_WarmsThenUpdates(t *testing.T) {
	r := NewRollingATR(2)
	if v := r.Update(TrueRangeInput{High: 10, Low: 9, PrevClose: 9}); v != nil {
		t.Fatalf("expected nil before warmup, got %v", *v)
	}
	v := r.Update(TrueRangeInput{High: 11, Low: 10, PrevClose: 10})
	if v == nil {
		t.Fatal("expected value once warmed")
	}
}
