package returns

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultRiskFreeRate is the annual risk-free rate used by SharpeRatio.
const DefaultRiskFreeRate = 0.06

// periodsPerYear treats valuations as calendar-daily.
const periodsPerYear = 365

// DailyReturns converts a value series into simple period returns.
// A period starting at zero contributes a zero return.
func DailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return []float64{}
	}

	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			out[i-1] = (values[i] - values[i-1]) / values[i-1]
		}
	}
	return out
}

// Volatility annualizes the sample standard deviation of daily returns.
// Returns nil with fewer than two returns.
func Volatility(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	v := stat.StdDev(returns, nil) * math.Sqrt(periodsPerYear)
	return &v
}

// SharpeRatio computes the annualized Sharpe ratio of daily returns against
// an annual risk-free rate:
//
//	excess = r - rf/365
//	sharpe = mean(excess)*365 / (popstd(excess)*sqrt(365))
//
// Returns nil with fewer than two returns or a flat series.
func SharpeRatio(returns []float64, riskFreeRate float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	dailyRiskFree := riskFreeRate / periodsPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRiskFree
	}

	mean := stat.Mean(excess, nil)
	std := math.Sqrt(stat.MomentAbout(2, excess, mean, nil))
	if std == 0 || math.IsNaN(std) {
		return nil
	}

	sharpe := (mean * periodsPerYear) / (std * math.Sqrt(periodsPerYear))
	return &sharpe
}

// MaxDrawdown returns the largest peak-to-trough decline as a positive
// fraction (0.25 is a 25% loss from peak). Returns nil with fewer than two values.
func MaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]
	for _, v := range values[1:] {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}
	return &maxDrawdown
}
