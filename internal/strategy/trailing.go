package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// MaxTrailingPercent is the widest retracement an order may trail by.
	MaxTrailingPercent = decimal.NewFromInt(50)
)

// TriggerPrice returns peak × (1 − trailingPct/100).
func TriggerPrice(peak, trailingPct decimal.Decimal) decimal.Decimal {
	return peak.Mul(one.Sub(trailingPct.Div(hundred)))
}

// ValidateTrailingPercent checks 0 < pct ≤ 50.
func ValidateTrailingPercent(pct decimal.Decimal) error {
	if !pct.IsPositive() {
		return fmt.Errorf("must be greater than 0, got %s", pct)
	}
	if pct.GreaterThan(MaxTrailingPercent) {
		return fmt.Errorf("must be at most %s, got %s", MaxTrailingPercent, pct)
	}
	return nil
}

// Tick is the result of feeding one observed price to a trailing stop.
type Tick struct {
	Peak       decimal.Decimal
	Trigger    decimal.Decimal
	PeakRaised bool
	Crossed    bool
}

// Track advances a trailing stop by one price observation. peak is nil before
// the first observation. The returned peak is never below the input peak.
func Track(peak *decimal.Decimal, trailingPct, price decimal.Decimal) Tick {
	t := Tick{}
	if peak == nil || price.GreaterThan(*peak) {
		t.Peak = price
		t.PeakRaised = true
	} else {
		t.Peak = *peak
	}
	t.Trigger = TriggerPrice(t.Peak, trailingPct)
	t.Crossed = price.LessThanOrEqual(t.Trigger)
	return t
}

// Retracement returns how far price sits below peak, as a percentage of peak.
func Retracement(peak, price decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(price).Div(peak).Mul(hundred)
}
