package currency

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// Converter converts amounts into a fixed base currency.
type Converter struct {
	rates domain.RateLookup
	base  string
	log   zerolog.Logger
}

// NewConverter creates a converter to base using the given rate lookup.
func NewConverter(base string, rates domain.RateLookup, log zerolog.Logger) *Converter {
	return &Converter{
		rates: rates,
		base:  money.NormalizeCurrency(base),
		log:   log.With().Str("component", "currency_converter").Logger(),
	}
}

// Base returns the base currency code.
func (c *Converter) Base() string {
	return c.base
}

// Rate returns how many units of the base currency one unit of currency is
// worth on the given date. The direct pair currency/base is preferred; when it
// is unknown the inverse pair base/currency is used.
func (c *Converter) Rate(currency string, on time.Time) (decimal.Decimal, error) {
	currency = money.NormalizeCurrency(currency)
	if currency == c.base {
		return decimal.NewFromInt(1), nil
	}

	direct := domain.CurrencyPair{Base: currency, Quote: c.base}
	rate, err := c.rates.Rate(direct, on)
	if err == nil {
		return c.checkRate(direct, rate)
	}

	var unavailable *domain.RateUnavailableError
	if !errors.As(err, &unavailable) {
		return decimal.Zero, fmt.Errorf("failed to resolve %s rate: %w", direct, err)
	}

	inverse, invErr := c.rates.Rate(direct.Inverse(), on)
	if invErr != nil {
		// Report the pair the caller asked for, not the fallback.
		return decimal.Zero, &domain.RateUnavailableError{Pair: direct, Date: on}
	}
	if _, err := c.checkRate(direct.Inverse(), inverse); err != nil {
		return decimal.Zero, err
	}

	c.log.Debug().
		Str("pair", direct.String()).
		Str("inverse_rate", inverse.String()).
		Msg("Using inverse pair")

	return money.Div(decimal.NewFromInt(1), inverse), nil
}

// ToBase converts amount in currency to the base currency on the given date.
func (c *Converter) ToBase(amount decimal.Decimal, currency string, on time.Time) (decimal.Decimal, error) {
	rate, err := c.Rate(currency, on)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate), nil
}

func (c *Converter) checkRate(pair domain.CurrencyPair, rate decimal.Decimal) (decimal.Decimal, error) {
	if !rate.IsPositive() {
		return decimal.Zero, domain.NewValidationError("", "rate", "non-positive %s rate %s", pair, rate)
	}
	return rate, nil
}
