package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLookup resolves the price of an instrument on a date.
// Implementations return *PriceUnavailableError when no price exists on or before the date.
type PriceLookup interface {
	Price(instrumentID string, on time.Time) (decimal.Decimal, error)
}

// RateLookup resolves an FX rate on a date.
// Implementations never look ahead of the date and return *RateUnavailableError
// when no rate exists on or before it.
type RateLookup interface {
	Rate(pair CurrencyPair, on time.Time) (decimal.Decimal, error)
}
