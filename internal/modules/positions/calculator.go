// Package positions derives position snapshots from open tax lots.
package positions

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// Converter resolves the rate that turns an amount in currency into the base
// currency on a date. *currency.Converter satisfies it.
type Converter interface {
	Rate(currency string, on time.Time) (decimal.Decimal, error)
}

// Valuation is the already-resolved market input for one instrument.
type Valuation struct {
	Price  decimal.Decimal // instrument currency
	FxRate decimal.Decimal // instrument currency to base currency
}

// Options configures a Calculator.
type Options struct {
	LongTermDays int
}

// Calculator builds position snapshots. It holds no lot state and never
// mutates the lots it is given.
type Calculator struct {
	longTermDays int
	log          zerolog.Logger
}

// NewCalculator creates a position calculator.
func NewCalculator(opts Options, log zerolog.Logger) *Calculator {
	if opts.LongTermDays <= 0 {
		opts.LongTermDays = 365
	}
	return &Calculator{
		longTermDays: opts.LongTermDays,
		log:          log.With().Str("component", "positions").Logger(),
	}
}

// held returns the lots acquired on or before asOf that still hold units.
func held(lots []domain.TaxLot, asOf time.Time) []domain.TaxLot {
	out := make([]domain.TaxLot, 0, len(lots))
	for _, l := range lots {
		if l.AcquisitionDate.After(asOf) || !l.IsOpen() {
			continue
		}
		out = append(out, l)
	}
	return out
}

// OpenQuantity returns the quantity held at asOf.
func OpenQuantity(lots []domain.TaxLot, asOf time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, l := range held(lots, asOf) {
		total = total.Add(l.RemainingQuantity)
	}
	return total
}

// Calculate values the lots of one instrument. lots must describe the
// instrument's state at asOf (see recompute.ReplayUntil). A zero open
// quantity yields a valid position with zero cost and value.
func (c *Calculator) Calculate(instrumentID, currency string, lots []domain.TaxLot, asOf time.Time, v Valuation) domain.Position {
	pos := domain.Position{
		AsOfDate:            asOf,
		OpenQuantity:        decimal.Zero,
		AverageCost:         decimal.Zero,
		TotalCost:           decimal.Zero,
		MarketPrice:         v.Price,
		MarketValue:         decimal.Zero,
		UnrealizedGain:      decimal.Zero,
		ShortTermUnrealized: decimal.Zero,
		LongTermUnrealized:  decimal.Zero,
		InstrumentID:        instrumentID,
		Currency:            currency,
		Lots:                make([]domain.LotSnapshot, 0),
	}

	basePrice := v.Price.Mul(v.FxRate)
	for _, l := range held(lots, asOf) {
		value := l.RemainingQuantity.Mul(basePrice)
		gain := value.Sub(l.RemainingCostBaseCurrency)
		days := domain.DaysBetween(l.AcquisitionDate, asOf)
		longTerm := days >= c.longTermDays

		pos.OpenQuantity = pos.OpenQuantity.Add(l.RemainingQuantity)
		pos.TotalCost = pos.TotalCost.Add(l.RemainingCostBaseCurrency)
		pos.MarketValue = pos.MarketValue.Add(value)
		if longTerm {
			pos.LongTermUnrealized = pos.LongTermUnrealized.Add(gain)
		} else {
			pos.ShortTermUnrealized = pos.ShortTermUnrealized.Add(gain)
		}

		pos.Lots = append(pos.Lots, domain.LotSnapshot{
			AcquisitionDate: l.AcquisitionDate,
			Quantity:        l.RemainingQuantity,
			UnitCost:        l.UnitCostBaseCurrency,
			Cost:            l.RemainingCostBaseCurrency,
			MarketValue:     value,
			UnrealizedGain:  gain,
			LotID:           l.LotID,
			DaysHeld:        days,
			LongTerm:        longTerm,
		})
	}

	pos.UnrealizedGain = pos.MarketValue.Sub(pos.TotalCost)
	if pos.OpenQuantity.IsPositive() {
		pos.AverageCost = money.Div(pos.TotalCost, pos.OpenQuantity)
	}

	return pos
}

// Snapshot resolves the market inputs for one instrument and calculates its
// position. Lookups are skipped when nothing is held, so a closed position
// never fails on a missing price.
func (c *Calculator) Snapshot(instrumentID, currency string, lots []domain.TaxLot, asOf time.Time, prices domain.PriceLookup, fx Converter) (domain.Position, error) {
	if !OpenQuantity(lots, asOf).IsPositive() {
		return c.Calculate(instrumentID, currency, lots, asOf, Valuation{Price: decimal.Zero, FxRate: decimal.Zero}), nil
	}

	price, err := prices.Price(instrumentID, asOf)
	if err != nil {
		return domain.Position{}, err
	}
	rate, err := fx.Rate(currency, asOf)
	if err != nil {
		return domain.Position{}, err
	}

	return c.Calculate(instrumentID, currency, lots, asOf, Valuation{Price: price, FxRate: rate}), nil
}

// Summary aggregates positions in the base currency.
// Percentages are expressed out of 100.
type Summary struct {
	AsOfDate                 time.Time                  `json:"as_of_date"`
	TotalCost                decimal.Decimal            `json:"total_cost"`
	MarketValue              decimal.Decimal            `json:"market_value"`
	UnrealizedGain           decimal.Decimal            `json:"unrealized_gain"`
	UnrealizedGainPercentage decimal.Decimal            `json:"unrealized_gain_percentage"`
	ShortTermUnrealized      decimal.Decimal            `json:"short_term_unrealized"`
	LongTermUnrealized       decimal.Decimal            `json:"long_term_unrealized"`
	CurrencyAllocation       map[string]decimal.Decimal `json:"currency_allocation"`
	OpenPositions            int                        `json:"open_positions"`
}

var hundred = decimal.NewFromInt(100)

// Summarize adds up a set of positions. The unrealized gain percentage is
// zero without invested cost. CurrencyAllocation splits the market value by
// trade currency and is empty when nothing has a market value.
func Summarize(asOf time.Time, positions []domain.Position) Summary {
	s := Summary{
		AsOfDate:                 asOf,
		TotalCost:                decimal.Zero,
		MarketValue:              decimal.Zero,
		UnrealizedGain:           decimal.Zero,
		UnrealizedGainPercentage: decimal.Zero,
		ShortTermUnrealized:      decimal.Zero,
		LongTermUnrealized:       decimal.Zero,
		CurrencyAllocation:       map[string]decimal.Decimal{},
	}
	byCurrency := make(map[string]decimal.Decimal)
	for _, p := range positions {
		s.TotalCost = s.TotalCost.Add(p.TotalCost)
		s.MarketValue = s.MarketValue.Add(p.MarketValue)
		s.UnrealizedGain = s.UnrealizedGain.Add(p.UnrealizedGain)
		s.ShortTermUnrealized = s.ShortTermUnrealized.Add(p.ShortTermUnrealized)
		s.LongTermUnrealized = s.LongTermUnrealized.Add(p.LongTermUnrealized)
		if p.OpenQuantity.IsPositive() {
			s.OpenPositions++
		}
		if !p.MarketValue.IsZero() {
			byCurrency[p.Currency] = byCurrency[p.Currency].Add(p.MarketValue)
		}
	}

	if s.TotalCost.IsPositive() {
		s.UnrealizedGainPercentage = money.Div(s.UnrealizedGain.Mul(hundred), s.TotalCost)
	}
	if !s.MarketValue.IsZero() {
		for currency, value := range byCurrency {
			s.CurrencyAllocation[currency] = money.Div(value.Mul(hundred), s.MarketValue)
		}
	}
	return s
}

// RoundSummary returns a copy of s rounded for output.
func RoundSummary(s Summary, baseCurrency string) Summary {
	s.TotalCost = money.RoundAmount(s.TotalCost, baseCurrency)
	s.MarketValue = money.RoundAmount(s.MarketValue, baseCurrency)
	s.UnrealizedGain = money.RoundAmount(s.UnrealizedGain, baseCurrency)
	s.UnrealizedGainPercentage = money.Round(s.UnrealizedGainPercentage, money.ReturnPlaces)
	s.ShortTermUnrealized = money.RoundAmount(s.ShortTermUnrealized, baseCurrency)
	s.LongTermUnrealized = money.RoundAmount(s.LongTermUnrealized, baseCurrency)

	allocation := make(map[string]decimal.Decimal, len(s.CurrencyAllocation))
	for currency, pct := range s.CurrencyAllocation {
		allocation[currency] = money.Round(pct, money.ReturnPlaces)
	}
	s.CurrencyAllocation = allocation
	return s
}

// SortByInstrument orders positions by instrument id.
func SortByInstrument(positions []domain.Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].InstrumentID < positions[j].InstrumentID
	})
}

// Round returns a copy of p with every amount rounded for output.
func Round(p domain.Position, baseCurrency string) domain.Position {
	p.OpenQuantity = money.Round(p.OpenQuantity, money.QuantityPlaces)
	p.AverageCost = money.Round(p.AverageCost, money.UnitCostPlaces)
	p.TotalCost = money.RoundAmount(p.TotalCost, baseCurrency)
	p.MarketValue = money.RoundAmount(p.MarketValue, baseCurrency)
	p.UnrealizedGain = money.RoundAmount(p.UnrealizedGain, baseCurrency)
	p.ShortTermUnrealized = money.RoundAmount(p.ShortTermUnrealized, baseCurrency)
	p.LongTermUnrealized = money.RoundAmount(p.LongTermUnrealized, baseCurrency)

	lots := make([]domain.LotSnapshot, len(p.Lots))
	for i, l := range p.Lots {
		l.Quantity = money.Round(l.Quantity, money.QuantityPlaces)
		l.UnitCost = money.Round(l.UnitCost, money.UnitCostPlaces)
		l.Cost = money.RoundAmount(l.Cost, baseCurrency)
		l.MarketValue = money.RoundAmount(l.MarketValue, baseCurrency)
		l.UnrealizedGain = money.RoundAmount(l.UnrealizedGain, baseCurrency)
		lots[i] = l
	}
	p.Lots = lots
	return p
}
