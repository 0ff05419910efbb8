package testing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/aristath/lotledger/internal/domain"
)

// MockPriceLookup is a testify mock of domain.PriceLookup.
type MockPriceLookup struct {
	mock.Mock
}

// Price implements domain.PriceLookup.
func (m *MockPriceLookup) Price(instrumentID string, on time.Time) (decimal.Decimal, error) {
	args := m.Called(instrumentID, on)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// MockRateLookup is a testify mock of domain.RateLookup.
type MockRateLookup struct {
	mock.Mock
}

// Rate implements domain.RateLookup.
func (m *MockRateLookup) Rate(pair domain.CurrencyPair, on time.Time) (decimal.Decimal, error) {
	args := m.Called(pair, on)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// StaticPrices serves a fixed price per instrument regardless of date.
// Missing instruments return *domain.PriceUnavailableError.
type StaticPrices map[string]decimal.Decimal

// Price implements domain.PriceLookup.
func (s StaticPrices) Price(instrumentID string, on time.Time) (decimal.Decimal, error) {
	p, ok := s[instrumentID]
	if !ok {
		return decimal.Zero, &domain.PriceUnavailableError{InstrumentID: instrumentID, Date: on}
	}
	return p, nil
}

// NoRates is a RateLookup with no rates at all.
type NoRates struct{}

// Rate implements domain.RateLookup.
func (NoRates) Rate(pair domain.CurrencyPair, on time.Time) (decimal.Decimal, error) {
	return decimal.Zero, &domain.RateUnavailableError{Pair: pair, Date: on}
}
