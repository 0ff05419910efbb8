// Package returns computes money-weighted and time-weighted returns and the
// performance statistics derived from a valuation series. Every function is
// pure: callers supply already-resolved cash flows and valuations.
package returns

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// DaysPerYear is the day count used to discount money-weighted flows.
const DaysPerYear = 365.0

// SolverOptions bounds the money-weighted root search.
type SolverOptions struct {
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"` // NPV tolerance per unit of gross flow
}

// DefaultSolverOptions returns the bracket [-0.9999, 100] with 100 iterations
// and a 1e-7 NPV tolerance.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		Lower:         -0.9999,
		Upper:         100,
		MaxIterations: 100,
		Tolerance:     1e-7,
	}
}

func (o SolverOptions) withDefaults() SolverOptions {
	d := DefaultSolverOptions()
	if o.Lower == 0 && o.Upper == 0 {
		o.Lower, o.Upper = d.Lower, d.Upper
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	return o
}

// MoneyWeighted solves for the annual rate r with
// sum(a_i / (1+r)^((d_i-d_0)/365)) = 0 over flows plus a terminal flow of
// terminalValue at asOf. flows must be ordered by date.
func MoneyWeighted(flows []domain.CashFlow, terminalValue decimal.Decimal, asOf time.Time, opts SolverOptions) (decimal.Decimal, error) {
	if len(flows) == 0 {
		return decimal.Zero, &domain.NoConvergenceError{Reason: "no cash flows"}
	}
	if err := domain.ValidateInstant("", "as_of", asOf); err != nil {
		return decimal.Zero, err
	}

	d0 := domain.StartOfDay(flows[0].Date)
	years := make([]float64, 0, len(flows)+1)
	amounts := make([]float64, 0, len(flows)+1)
	for i, f := range flows {
		if i > 0 && f.Date.Before(flows[i-1].Date) {
			return decimal.Zero, domain.NewValidationError(f.TransactionID, "date", "cash flows are not ordered by date")
		}
		if f.Date.After(asOf) {
			return decimal.Zero, domain.NewValidationError(f.TransactionID, "date", "cash flow after valuation date %s", asOf.Format(domain.DateLayout))
		}
		years = append(years, float64(domain.DaysBetween(d0, f.Date))/DaysPerYear)
		amounts = append(amounts, f.AmountBaseCurrency.InexactFloat64())
	}
	if !terminalValue.IsZero() {
		years = append(years, float64(domain.DaysBetween(d0, asOf))/DaysPerYear)
		amounts = append(amounts, terminalValue.InexactFloat64())
	}

	r, err := SolveRate(years, amounts, opts)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(r), nil
}

// MoneyWeightedForPeriod values the period as an investment of startValue at
// period.Start, the flows dated after the start day through period.End, and a
// terminal withdrawal of endValue. flows outside the period are ignored.
func MoneyWeightedForPeriod(startValue decimal.Decimal, flows []domain.CashFlow, endValue decimal.Decimal, period domain.Period, opts SolverOptions) (decimal.Decimal, error) {
	if !period.Valid() {
		return decimal.Zero, domain.NewValidationError("", "period", "start must be before end")
	}

	periodFlows := make([]domain.CashFlow, 0, len(flows)+1)
	if !startValue.IsZero() {
		periodFlows = append(periodFlows, domain.CashFlow{Date: period.Start, AmountBaseCurrency: startValue.Neg()})
	}
	for _, f := range flows {
		if domain.StartOfDay(f.Date).After(domain.StartOfDay(period.Start)) && !f.Date.After(period.End) {
			periodFlows = append(periodFlows, f)
		}
	}
	return MoneyWeighted(periodFlows, endValue, period.End, opts)
}

// maxBoundRetreats caps how often a bracket bound is pulled inward.
const maxBoundRetreats = 64

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func npv(rate float64, years, amounts []float64) (value, derivative float64) {
	base := 1 + rate
	for i, a := range amounts {
		t := years[i]
		disc := a * math.Pow(base, -t)
		value += disc
		derivative -= t * disc / base
	}
	return value, derivative
}

// SolveRate finds the root of the NPV function inside the configured bracket
// with Newton steps, falling back to bisection whenever a step leaves the
// bracket. It fails with NoConvergenceError when the NPV does not change sign
// across the bracket or the iteration cap is reached.
func SolveRate(years, amounts []float64, opts SolverOptions) (float64, error) {
	opts = opts.withDefaults()
	if len(years) != len(amounts) || len(amounts) < 2 {
		return 0, &domain.NoConvergenceError{Reason: "at least two cash flows are required"}
	}

	var hasPos, hasNeg bool
	gross := 0.0
	for _, a := range amounts {
		hasPos = hasPos || a > 0
		hasNeg = hasNeg || a < 0
		gross += math.Abs(a)
	}
	if !hasPos || !hasNeg {
		return 0, &domain.NoConvergenceError{Reason: "cash flows all have the same sign"}
	}
	tol := opts.Tolerance * gross

	lo, hi := opts.Lower, opts.Upper
	anchor := 0.0
	if anchor <= lo || anchor >= hi {
		anchor = (lo + hi) / 2
	}
	// Over long horizons (1+r)^-t overflows near r = -1. Such a bound is
	// pulled halfway toward the anchor until the NPV is finite there.
	fLo, _ := npv(lo, years, amounts)
	for i := 0; !isFinite(fLo) && i < maxBoundRetreats; i++ {
		lo = (lo + anchor) / 2
		fLo, _ = npv(lo, years, amounts)
	}
	fHi, _ := npv(hi, years, amounts)
	for i := 0; !isFinite(fHi) && i < maxBoundRetreats; i++ {
		hi = (hi + anchor) / 2
		fHi, _ = npv(hi, years, amounts)
	}
	if !isFinite(fLo) || !isFinite(fHi) {
		return 0, &domain.NoConvergenceError{Reason: "npv is not finite at the bracket bounds"}
	}
	if math.Abs(fLo) <= tol {
		return lo, nil
	}
	if math.Abs(fHi) <= tol {
		return hi, nil
	}
	if (fLo > 0) == (fHi > 0) {
		return 0, &domain.NoConvergenceError{Reason: "npv does not change sign within the rate bracket"}
	}

	x := 0.1
	if x <= lo || x >= hi {
		x = (lo + hi) / 2
	}
	for i := 1; i <= opts.MaxIterations; i++ {
		fx, dfx := npv(x, years, amounts)
		if math.Abs(fx) <= tol {
			return x, nil
		}

		// Shrink the bracket around the root
		if (fx > 0) == (fLo > 0) {
			lo, fLo = x, fx
		} else {
			hi = x
		}

		next := x - fx/dfx
		if dfx == 0 || math.IsNaN(next) || next <= lo || next >= hi {
			next = (lo + hi) / 2
		}
		if hi-lo <= 1e-15*math.Max(1, math.Abs(x)) {
			return next, nil
		}
		x = next
	}

	return 0, &domain.NoConvergenceError{Reason: "iteration cap reached", Iterations: opts.MaxIterations}
}
