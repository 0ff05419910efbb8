// Package money holds the decimal conventions shared by the lot engine:
// internal division precision, ISO-4217 validation and output rounding.
package money

import (
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// InternalPrecision is the number of fractional digits kept by Div.
// Intermediate values are never rounded to currency precision.
const InternalPrecision int32 = 28

// Output precision for values that are not currency amounts.
const (
	QuantityPlaces int32 = 10
	UnitCostPlaces int32 = 10
	RatePlaces     int32 = 10
	ReturnPlaces   int32 = 8
)

// Div divides a by b keeping InternalPrecision digits. b must not be zero.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, InternalPrecision)
}

// ProRata returns total * part / whole.
// Multiplication happens first so exact inputs stay exact as long as possible.
func ProRata(total, part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return Div(total.Mul(part), whole)
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCurrency reports whether code is a known ISO-4217 currency.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("currency code %q must have three letters", code)
	}
	if gomoney.GetCurrency(code) == nil {
		return fmt.Errorf("unknown currency code %q", code)
	}
	return nil
}

// MinorUnits returns the number of decimal places of the currency's minor unit.
// Unknown currencies use two places.
func MinorUnits(code string) int32 {
	if c := gomoney.GetCurrency(code); c != nil {
		return int32(c.Fraction)
	}
	return 2
}

// RoundAmount rounds a monetary amount half-to-even at the currency's minor unit.
// It is applied only when a value leaves the engine (API output, persistence of reports).
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundBank(MinorUnits(currency))
}

// Round rounds half-to-even at the given number of places.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundBank(places)
}

// Format renders an amount with the currency's symbol and grouping,
// e.g. "$1,234.50". Used by the replay CLI text output.
func Format(amount decimal.Decimal, currency string) string {
	c := gomoney.GetCurrency(currency)
	if c == nil {
		return amount.StringFixedBank(2) + " " + currency
	}
	minor := amount.RoundBank(int32(c.Fraction)).Shift(int32(c.Fraction)).IntPart()
	return c.Formatter().Format(minor)
}

// FormatPercent renders a fractional return as a percentage with two places,
// e.g. 0.1234 as "12.34%".
func FormatPercent(fraction decimal.Decimal) string {
	return fraction.Shift(2).StringFixedBank(2) + "%"
}
