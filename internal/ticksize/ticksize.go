// Package ticksize implements the KRX price-band to minimum tick-increment
// table (spec §4.1) plus truncated rounding.
package ticksize

import "sort"

// Band is one (upper_exclusive_price, tick) pair. Bands must be supplied in
// ascending UpperExclusive order; the last band is the top tier and applies
// to any price at or above its predecessor's bound.
type Band struct {
	UpperExclusive float64
	Tick           float64
}

// DefaultBands is the standard KRX equity tick-size table.
var DefaultBands = []Band{
	{UpperExclusive: 2000, Tick: 1},
	{UpperExclusive: 5000, Tick: 5},
	{UpperExclusive: 20000, Tick: 10},
	{UpperExclusive: 50000, Tick: 50},
	{UpperExclusive: 200000, Tick: 100},
	{UpperExclusive: 500000, Tick: 500},
	{UpperExclusive: 0, Tick: 1000}, // top tier, UpperExclusive unused
}

// Table resolves a price to its minimum tick increment.
type Table struct {
	bands []Band
}

// NewTable builds a Table from an ordered band sequence. The caller owns
// ordering; NewTable neither sorts nor validates the bands.
func NewTable(bands []Band) *Table {
	cp := make([]Band, len(bands))
	copy(cp, bands)
	return &Table{bands: cp}
}

// NewDefaultTable builds a Table from DefaultBands.
func NewDefaultTable() *Table { return NewTable(DefaultBands) }

// TickSize returns the tick of the first band where price < UpperExclusive,
// else the top tier's tick.
func (t *Table) TickSize(price float64) float64 {
	for i := 0; i < len(t.bands)-1; i++ {
		if price < t.bands[i].UpperExclusive {
			return t.bands[i].Tick
		}
	}
	return t.bands[len(t.bands)-1].Tick
}

// RoundToTick truncates price down to the nearest multiple of tick.
// tick <= 0 returns price unchanged (defensive: callers must pass a
// positive tick from TickSize).
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	units := float64(int64(price / tick))
	return units * tick
}

// RoundDown is a convenience combining TickSize and RoundToTick.
func (t *Table) RoundDown(price float64) float64 {
	return RoundToTick(price, t.TickSize(price))
}

// sortBands is exposed for callers who build a table from unordered
// configuration and want canonical ordering before NewTable.
func sortBands(bands []Band) {
	sort.Slice(bands, func(i, j int) bool {
		if bands[i].UpperExclusive == 0 {
			return false
		}
		if bands[j].UpperExclusive == 0 {
			return true
		}
		return bands[i].UpperExclusive < bands[j].UpperExclusive
	})
}

// SortBands sorts bands in place so the top tier (UpperExclusive == 0) ends
// up last, as NewTable requires.
func SortBands(bands []Band) { sortBands(bands) }
