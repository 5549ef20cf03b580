package common

import (
	"github.com/shopspring/decimal"
)

// SymbolFilters holds the exchange precision rules for one symbol. Prices and
// quantities must be snapped to these steps before submission or the venue
// rejects the order with a filter failure.
type SymbolFilters struct {
	Symbol   string
	TickSize string // price step, e.g. "0.10"
	StepSize string // quantity step, e.g. "0.001"
	MinQty   string
}

// FormatPrice snaps a price down to the tick size and renders it for the wire.
func (f SymbolFilters) FormatPrice(price float64) string {
	return snap(price, f.TickSize)
}

// FormatQty snaps a quantity down to the step size and renders it for the wire.
func (f SymbolFilters) FormatQty(qty float64) string {
	return snap(qty, f.StepSize)
}

// BelowMinQty reports whether qty is under the venue minimum after snapping.
func (f SymbolFilters) BelowMinQty(qty float64) bool {
	if f.MinQty == "" {
		return false
	}
	min, err := decimal.NewFromString(f.MinQty)
	if err != nil {
		return false
	}
	snapped, err := decimal.NewFromString(f.FormatQty(qty))
	if err != nil {
		return false
	}
	return snapped.LessThan(min)
}

func snap(v float64, step string) string {
	d := decimal.NewFromFloat(v)
	s, err := decimal.NewFromString(step)
	if err != nil || s.IsZero() {
		return d.String()
	}
	// Truncate toward zero to the nearest step multiple.
	return d.Div(s).Floor().Mul(s).String()
}
