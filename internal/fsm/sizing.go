package fsm

import (
	"math"

	"github.com/kis-core/execution/internal/symbolstate"
)

// QualityInputs carries the components of the quality score not already
// present on a Snapshot.
type QualityInputs struct {
	MinutesSinceOpen float64
	MinSurgeSlope    float64
	RegimeBreadthOK  bool
	NotChop          bool
}

// QualityScore computes the 0-100 quality score (spec §4.18): surge excess,
// rvol excess, tick imbalance, spread, acceptance cleanliness, regime
// breadth, and not-chop, each clamped to its own point budget.
func QualityScore(snap symbolstate.Snapshot, in QualityInputs) float64 {
	var score float64

	minSurge := minSurgeThreshold(in.MinutesSinceOpen, in.MinSurgeSlope)
	surgeExcess := snap.SurgeRatio - minSurge
	score += clampRange(surgeExcess*10, 0, 20)

	rvolExcess := snap.RVol1m - rvolMin
	score += clampRange(rvolExcess*10, 0, 15)

	imbScore := (snap.ImbalanceValue + 0.1) * 50
	score += clampRange(imbScore, 0, 15)

	spreadScore := 10 - snap.SpreadPct*500
	score += clampRange(spreadScore, 0, 10)

	if snap.ORHigh > 0 && snap.RetestLow > 0 && snap.RetestLow < snap.ORHigh {
		pullbackDepth := (snap.ORHigh - snap.RetestLow) / snap.ORHigh
		cleanliness := 10 - pullbackDepth*400
		score += clampRange(cleanliness, 0, 10)
	}

	if in.RegimeBreadthOK {
		score += 15
	}
	if in.NotChop {
		score += 15
	}

	return clampRange(score, 0, 100)
}

// QualityMultiplier buckets a quality score into the sizing overlay,
// keyed on the configured minimum threshold and the two fixed tiers above
// it.
func QualityMultiplier(score, minThreshold float64) float64 {
	if score < minThreshold {
		return 0
	}
	if score < qualityThresholdMed {
		return 0.5
	}
	if score < qualityThresholdHigh {
		return 1.0
	}
	return 1.5
}

// SizingInputs bundles the sizing call's external inputs (spec §4.18).
type SizingInputs struct {
	Equity       float64
	EntryPx      float64
	StopPx       float64
	ProgramMult  float64
	TimeMinutes  float64
	Last5mValue  float64
	QualityScore QualityInputs
}

// ComputeQty runs the full sizing pipeline: risk-parity base quantity,
// quality/time/program overlays, then liquidity and NAV caps. Returns zero
// when the quality multiplier floors at zero, the risk-per-share is
// non-positive, or either cap collapses the quantity.
func ComputeQty(snap symbolstate.Snapshot, in SizingInputs, minQualityThreshold float64) float64 {
	riskPerShare := in.EntryPx - in.StopPx
	if riskPerShare <= 0 {
		return 0
	}

	riskKRW := in.Equity * baseRiskPct
	qtyBase := riskKRW / riskPerShare

	score := QualityScore(snap, in.QualityScore)
	qmult := QualityMultiplier(score, minQualityThreshold)
	if qmult <= 0 {
		return 0
	}

	tmult := timeMultiplier(in.TimeMinutes)
	qty := qtyBase * qmult * tmult * in.ProgramMult
	if qty <= 0 {
		return 0
	}

	qty = applyLiquidityCap(qty, in.EntryPx, in.Last5mValue)
	qty = applyNavCap(qty, in.EntryPx, in.Equity)
	return math.Max(0, math.Floor(qty))
}

func applyLiquidityCap(qty, entryPx, last5mValue float64) float64 {
	if last5mValue <= 0 {
		return qty
	}
	maxNotional := liqCapPct5mVal * last5mValue
	maxQty := maxNotional / math.Max(entryPx, 1.0)
	return math.Min(qty, maxQty)
}

func applyNavCap(qty, entryPx, equity float64) float64 {
	if equity <= 0 || entryPx <= 0 {
		return qty
	}
	maxNotional := navCapPct * equity
	maxQty := maxNotional / entryPx
	return math.Min(qty, maxQty)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
