package returns

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// AnnualizationDays is the year length used to annualize chained returns.
const AnnualizationDays = 365.25

// Valuation is the base-currency market value of a portfolio at the close of a day.
type Valuation struct {
	Date  time.Time       `json:"date"`
	Value decimal.Decimal `json:"value"`
}

// SubPeriod is one link of a time-weighted chain.
type SubPeriod struct {
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	StartValue decimal.Decimal `json:"start_value"`
	EndValue   decimal.Decimal `json:"end_value"`
	Inflow     decimal.Decimal `json:"inflow"`
	Return     decimal.Decimal `json:"return"`
}

// SubPeriods splits the series at every valuation date. valuations must be
// ordered by day with no duplicates; the first one opens the chain. Every
// flow must fall on the day of a later valuation, so callers value the
// portfolio at each flow date. The inflow of a sub-period is the money that
// entered the portfolio on its end date (the negated investor flows).
func SubPeriods(valuations []Valuation, flows []domain.CashFlow) ([]SubPeriod, error) {
	if len(valuations) < 2 {
		return nil, domain.NewValidationError("", "valuations", "at least two valuations are required")
	}

	index := make(map[time.Time]int, len(valuations))
	for i, v := range valuations {
		day := domain.StartOfDay(v.Date)
		if i > 0 && !day.After(domain.StartOfDay(valuations[i-1].Date)) {
			return nil, domain.NewValidationError("", "valuations", "valuations must be strictly increasing by day at %s", day.Format(domain.DateLayout))
		}
		index[day] = i
	}

	inflows := make([]decimal.Decimal, len(valuations))
	for i := range inflows {
		inflows[i] = decimal.Zero
	}
	for _, f := range flows {
		i, ok := index[domain.StartOfDay(f.Date)]
		if !ok || i == 0 {
			return nil, domain.NewValidationError(f.TransactionID, "date",
				"cash flow on %s has no closing valuation inside the period", f.Date.Format(domain.DateLayout))
		}
		inflows[i] = inflows[i].Sub(f.AmountBaseCurrency)
	}

	periods := make([]SubPeriod, 0, len(valuations)-1)
	for i := 1; i < len(valuations); i++ {
		start, end := valuations[i-1], valuations[i]
		r := decimal.Zero
		// A period that starts empty (initial funding) contributes nothing
		if !start.Value.IsZero() {
			r = money.Div(end.Value.Sub(inflows[i]), start.Value).Sub(decimal.NewFromInt(1))
		}
		periods = append(periods, SubPeriod{
			Start:      start.Date,
			End:        end.Date,
			StartValue: start.Value,
			EndValue:   end.Value,
			Inflow:     inflows[i],
			Return:     r,
		})
	}
	return periods, nil
}

// Chain links sub-period returns: prod(1 + r_i) - 1.
func Chain(periods []SubPeriod) decimal.Decimal {
	growth := decimal.NewFromInt(1)
	for _, p := range periods {
		growth = growth.Mul(decimal.NewFromInt(1).Add(p.Return)).Round(money.InternalPrecision)
	}
	return growth.Sub(decimal.NewFromInt(1))
}

// TimeWeighted returns the chained time-weighted return of the series.
func TimeWeighted(valuations []Valuation, flows []domain.CashFlow) (decimal.Decimal, error) {
	periods, err := SubPeriods(valuations, flows)
	if err != nil {
		return decimal.Zero, err
	}
	return Chain(periods), nil
}

// Annualize converts a total return over days into a yearly rate using a
// 365.25 day year. ok is false for an empty span or a total loss.
func Annualize(total decimal.Decimal, days int) (decimal.Decimal, bool) {
	if days <= 0 {
		return decimal.Zero, false
	}
	growth := 1 + total.InexactFloat64()
	if growth <= 0 {
		return decimal.Zero, false
	}
	r := math.Pow(growth, AnnualizationDays/float64(days)) - 1
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(r), true
}
