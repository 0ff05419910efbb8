package returns

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/money"
)

// PerformanceInput is everything Compute needs for one period.
type PerformanceInput struct {
	Period domain.Period
	// Flows dated after the start day through the end of the period
	Flows []domain.CashFlow
	// Closing values from the start day to the end day. Daily series give
	// meaningful volatility and Sharpe figures; at minimum every flow date
	// must be present.
	Valuations   []Valuation
	Solver       SolverOptions
	RiskFreeRate float64
}

// Performance summarizes a portfolio over a period. Return figures are
// fractions (0.1 is 10%) except TotalReturnPercentage.
type Performance struct {
	StartDate             time.Time        `json:"start_date"`
	EndDate               time.Time        `json:"end_date"`
	StartValue            decimal.Decimal  `json:"start_value"`
	CurrentValue          decimal.Decimal  `json:"current_value"`
	TotalInvested         decimal.Decimal  `json:"total_invested"`
	TotalProceeds         decimal.Decimal  `json:"total_proceeds"`
	Dividends             decimal.Decimal  `json:"dividends"`
	Fees                  decimal.Decimal  `json:"fees"`
	NetInvested           decimal.Decimal  `json:"net_invested"`
	TotalReturn           decimal.Decimal  `json:"total_return"`
	TotalReturnPercentage decimal.Decimal  `json:"total_return_percentage"`
	MoneyWeighted         *decimal.Decimal `json:"money_weighted,omitempty"`
	MoneyWeightedError    string           `json:"money_weighted_error,omitempty"`
	TimeWeighted          *decimal.Decimal `json:"time_weighted,omitempty"`
	TimeWeightedAnnual    *decimal.Decimal `json:"time_weighted_annualized,omitempty"`
	Volatility            *float64         `json:"volatility,omitempty"`
	SharpeRatio           *float64         `json:"sharpe_ratio,omitempty"`
	MaxDrawdown           *float64         `json:"max_drawdown,omitempty"`
	DaysInvested          int              `json:"days_invested"`
}

// Compute derives the performance figures of one period. An undefined
// money-weighted return is reported in MoneyWeightedError rather than failing
// the whole computation; malformed input still returns an error.
func Compute(in PerformanceInput) (*Performance, error) {
	if !in.Period.Valid() {
		return nil, domain.NewValidationError("", "period", "start must be before end")
	}
	if len(in.Valuations) < 2 {
		return nil, domain.NewValidationError("", "valuations", "at least two valuations are required")
	}
	if in.RiskFreeRate == 0 {
		in.RiskFreeRate = DefaultRiskFreeRate
	}

	startValue := in.Valuations[0].Value
	endValue := in.Valuations[len(in.Valuations)-1].Value
	totals := cash_flows.Summarize(in.Flows)

	p := &Performance{
		StartDate:             in.Period.Start,
		EndDate:               in.Period.End,
		StartValue:            startValue,
		CurrentValue:          endValue,
		TotalInvested:         totals.Invested,
		TotalProceeds:         totals.Proceeds,
		Dividends:             totals.Dividends,
		Fees:                  totals.Fees,
		NetInvested:           startValue.Add(totals.NetInvested()),
		TotalReturnPercentage: decimal.Zero,
		DaysInvested:          domain.DaysBetween(in.Period.Start, in.Period.End),
	}
	p.TotalReturn = endValue.Sub(p.NetInvested)
	if p.NetInvested.IsPositive() {
		p.TotalReturnPercentage = money.Div(p.TotalReturn, p.NetInvested).Mul(decimal.NewFromInt(100))
	}

	mwr, err := MoneyWeightedForPeriod(startValue, in.Flows, endValue, in.Period, in.Solver)
	if err != nil {
		var undefined *domain.NoConvergenceError
		if !errors.As(err, &undefined) {
			return nil, err
		}
		p.MoneyWeightedError = err.Error()
	} else {
		p.MoneyWeighted = &mwr
	}

	periods, err := SubPeriods(in.Valuations, in.Flows)
	if err != nil {
		return nil, err
	}
	twr := Chain(periods)
	p.TimeWeighted = &twr
	if annual, ok := Annualize(twr, p.DaysInvested); ok {
		p.TimeWeightedAnnual = &annual
	}

	// Flow-adjusted sub-period returns and their growth index
	daily := make([]float64, len(periods))
	index := make([]float64, 0, len(periods)+1)
	growth := 1.0
	index = append(index, growth)
	for i, sp := range periods {
		daily[i] = sp.Return.InexactFloat64()
		growth *= 1 + daily[i]
		index = append(index, growth)
	}
	p.Volatility = Volatility(daily)
	p.SharpeRatio = SharpeRatio(daily, in.RiskFreeRate)
	p.MaxDrawdown = MaxDrawdown(index)

	return p, nil
}

// Round returns a copy with amounts rounded to the base currency and returns
// rounded to ReturnPlaces.
func (p Performance) Round(baseCurrency string) Performance {
	amount := func(d decimal.Decimal) decimal.Decimal { return money.RoundAmount(d, baseCurrency) }
	rate := func(d *decimal.Decimal) *decimal.Decimal {
		if d == nil {
			return nil
		}
		r := money.Round(*d, money.ReturnPlaces)
		return &r
	}

	p.StartValue = amount(p.StartValue)
	p.CurrentValue = amount(p.CurrentValue)
	p.TotalInvested = amount(p.TotalInvested)
	p.TotalProceeds = amount(p.TotalProceeds)
	p.Dividends = amount(p.Dividends)
	p.Fees = amount(p.Fees)
	p.NetInvested = amount(p.NetInvested)
	p.TotalReturn = amount(p.TotalReturn)
	p.TotalReturnPercentage = money.Round(p.TotalReturnPercentage, 4)
	p.MoneyWeighted = rate(p.MoneyWeighted)
	p.TimeWeighted = rate(p.TimeWeighted)
	p.TimeWeightedAnnual = rate(p.TimeWeightedAnnual)
	return p
}
