// Package exposure implements the process-wide sector exposure tracker of
// spec §4.16 (C16), adapted from
// original_source/kis_core/sector_exposure.py's SectorExposure.
package exposure

import "github.com/kis-core/execution/internal/metrics"

func (e *Exposure) publishSector(sector string) {
	metrics.SectorOpenCount.WithLabelValues(sector).Set(float64(e.openCount[sector]))
	metrics.SectorWorkingCount.WithLabelValues(sector).Set(float64(e.workingCount[sector]))
	metrics.SectorOpenNotional.WithLabelValues(sector).Set(e.openNotional[sector])
	metrics.SectorWorkingNotional.WithLabelValues(sector).Set(e.workingNotional[sector])
}

// Mode selects which cap can_enter enforces.
type Mode string

const (
	ModeCount Mode = "count"
	ModePct   Mode = "pct"
	ModeBoth  Mode = "both"
)

// UnknownSectorPolicy controls can_enter's outcome for a symbol with no
// sector mapping.
type UnknownSectorPolicy string

const (
	UnknownAllow UnknownSectorPolicy = "allow"
	UnknownBlock UnknownSectorPolicy = "block"
)

const unknownSector = "UNKNOWN"

// Config holds the sector-cap thresholds.
type Config struct {
	Mode                  Mode
	MaxPositionsPerSector int
	MaxSectorPct          float64
	UnknownSectorPolicy   UnknownSectorPolicy
}

// DefaultConfig mirrors SectorExposureConfig's dataclass defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                  ModeBoth,
		MaxPositionsPerSector: 2,
		MaxSectorPct:          0.30,
		UnknownSectorPolicy:   UnknownAllow,
	}
}

// Position is a broker-confirmed holding, as reported by the OMS
// reconciliation loop (C20).
type Position struct {
	Qty float64
	Px  float64
}

// Exposure tracks, per sector, open and working position counts and
// notionals. It is single-threaded under the main strategy loop per spec
// §5: all mutators are expected to run on one goroutine, so no internal
// locking is done.
type Exposure struct {
	symToSector map[string]string
	config      Config

	openCount       map[string]int
	workingCount    map[string]int
	openNotional    map[string]float64
	workingNotional map[string]float64
}

// New builds an Exposure over a fixed symbol-to-sector mapping.
func New(symToSector map[string]string, config Config) *Exposure {
	return &Exposure{
		symToSector:     symToSector,
		config:          config,
		openCount:       make(map[string]int),
		workingCount:    make(map[string]int),
		openNotional:    make(map[string]float64),
		workingNotional: make(map[string]float64),
	}
}

// GetSector returns sym's mapped sector, or "UNKNOWN" if unmapped.
func (e *Exposure) GetSector(sym string) string {
	if sector, ok := e.symToSector[sym]; ok {
		return sector
	}
	return unknownSector
}

// CanEnter reports whether a new entry of qty shares at px is allowed under
// the configured sector cap, given current account equity.
func (e *Exposure) CanEnter(sym string, qty float64, px float64, equity float64) bool {
	sector := e.GetSector(sym)
	if sector == unknownSector {
		return e.config.UnknownSectorPolicy == UnknownAllow
	}

	notional := qty * px

	if e.config.Mode == ModeCount || e.config.Mode == ModeBoth {
		total := e.openCount[sector] + e.workingCount[sector]
		if total >= e.config.MaxPositionsPerSector {
			return false
		}
	}

	if (e.config.Mode == ModePct || e.config.Mode == ModeBoth) && equity > 0 {
		total := e.openNotional[sector] + e.workingNotional[sector] + notional
		if total/equity >= e.config.MaxSectorPct {
			return false
		}
	}

	return true
}

// Reserve claims a working slot for sym ahead of order submission. The
// caller must pair every reserve with exactly one of unreserve or OnFill.
func (e *Exposure) Reserve(sym string, qty float64, px float64) {
	sector := e.GetSector(sym)
	if sector == unknownSector {
		return
	}
	e.workingCount[sector]++
	e.workingNotional[sector] += qty * px
	e.publishSector(sector)
}

// Unreserve releases a working slot on order failure, cancel, or rejection.
func (e *Exposure) Unreserve(sym string, qty float64, px float64) {
	sector := e.GetSector(sym)
	if sector == unknownSector {
		return
	}
	e.workingCount[sector] = saturateInt(e.workingCount[sector] - 1)
	e.workingNotional[sector] = saturateFloat(e.workingNotional[sector] - qty*px)
	e.publishSector(sector)
}

// OnFill moves a reservation from working to open on fill confirmation.
func (e *Exposure) OnFill(sym string, qty float64, px float64) {
	sector := e.GetSector(sym)
	if sector == unknownSector {
		return
	}
	e.workingCount[sector] = saturateInt(e.workingCount[sector] - 1)
	e.openCount[sector]++
	notional := qty * px
	e.workingNotional[sector] = saturateFloat(e.workingNotional[sector] - notional)
	e.openNotional[sector] += notional
	e.publishSector(sector)
}

// OnClose decrements the open slot for sym on position close.
func (e *Exposure) OnClose(sym string, qty float64, px float64) {
	sector := e.GetSector(sym)
	if sector == unknownSector {
		return
	}
	e.openCount[sector] = saturateInt(e.openCount[sector] - 1)
	e.openNotional[sector] = saturateFloat(e.openNotional[sector] - qty*px)
	e.publishSector(sector)
}

// reset clears all four maps, as the first step of Reconcile's atomic
// rebuild.
func (e *Exposure) reset() {
	e.openCount = make(map[string]int)
	e.workingCount = make(map[string]int)
	e.openNotional = make(map[string]float64)
	e.workingNotional = make(map[string]float64)
}

// Reconcile rebuilds all exposure state from OMS truth: clears every
// counter, then recomputes open counts/notionals from positions and working
// counts from workingSymbols. Working notionals are left at zero since
// C20's reconciliation snapshot does not carry a working-order price.
func (e *Exposure) Reconcile(positions map[string]Position, workingSymbols map[string]bool) {
	e.reset()

	for sym, pos := range positions {
		sector := e.GetSector(sym)
		if sector == unknownSector {
			continue
		}
		e.openCount[sector]++
		e.openNotional[sector] += pos.Qty * pos.Px
	}

	for sym := range workingSymbols {
		sector := e.GetSector(sym)
		if sector == unknownSector {
			continue
		}
		e.workingCount[sector]++
	}
}

func saturateInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func saturateFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
