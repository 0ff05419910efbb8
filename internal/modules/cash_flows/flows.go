// Package cash_flows derives external cash flows from ledger transactions and
// persists the derived flows of a portfolio in portfolio.db.
//
// Flows are seen from the investor: money put into the portfolio (buys, fees)
// is negative and money taken out (sales, dividends) is positive. The return
// calculator consumes them in date order, ties broken by ledger sequence.
package cash_flows

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// FromTrade builds the flow of a BUY or SELL converted at fxRate.
//
// Parameters:
//   - tx: BUY or SELL transaction
//   - fxRate: trade currency to base currency rate on the trade date
//
// Returns:
//   - domain.CashFlow: -(q*p + fees)*fx for a buy, +(q*p - fees)*fx for a sale
//   - error: ValidationError for any other kind
func FromTrade(tx domain.Transaction, fxRate decimal.Decimal) (domain.CashFlow, error) {
	switch tx.Kind {
	case domain.KindBuy:
		return newFlow(tx, domain.FlowBuy, tx.Gross().Add(tx.Fees).Mul(fxRate).Neg()), nil
	case domain.KindSell:
		return newFlow(tx, domain.FlowSell, tx.Gross().Sub(tx.Fees).Mul(fxRate)), nil
	default:
		return domain.CashFlow{}, domain.NewValidationError(tx.ID, "kind", "%s is not a trade", tx.Kind)
	}
}

// FeeAmount returns the charge of a FEE transaction in its own currency.
func FeeAmount(tx domain.Transaction) decimal.Decimal {
	return tx.Gross().Add(tx.Fees)
}

// FromFee builds the outflow of a standalone FEE converted at fxRate.
func FromFee(tx domain.Transaction, fxRate decimal.Decimal) (domain.CashFlow, error) {
	if tx.Kind != domain.KindFee {
		return domain.CashFlow{}, domain.NewValidationError(tx.ID, "kind", "expected FEE, got %s", tx.Kind)
	}
	return newFlow(tx, domain.FlowFee, FeeAmount(tx).Mul(fxRate).Neg()), nil
}

// Dividend builds the inflow of a dividend whose net base-currency amount has
// already been resolved by the corporate action processor.
func Dividend(tx domain.Transaction, netBaseAmount decimal.Decimal) domain.CashFlow {
	return newFlow(tx, domain.FlowDividend, netBaseAmount)
}

func newFlow(tx domain.Transaction, flowType domain.FlowType, amount decimal.Decimal) domain.CashFlow {
	return domain.CashFlow{
		Date:               tx.TradeDate,
		AmountBaseCurrency: amount,
		FlowType:           flowType,
		TransactionID:      tx.ID,
		InstrumentID:       tx.InstrumentID,
		Sequence:           tx.Sequence,
	}
}

// Sort orders flows by date, ties broken by ledger sequence.
// The sort is stable so flows sharing both keys keep their emission order.
func Sort(flows []domain.CashFlow) {
	sort.SliceStable(flows, func(i, j int) bool {
		if !flows[i].Date.Equal(flows[j].Date) {
			return flows[i].Date.Before(flows[j].Date)
		}
		return flows[i].Sequence < flows[j].Sequence
	})
}

// InPeriod returns the flows dated within the period, bounds inclusive.
func InPeriod(flows []domain.CashFlow, p domain.Period) []domain.CashFlow {
	return Filter(flows, func(f domain.CashFlow) bool {
		return !f.Date.Before(p.Start) && !f.Date.After(p.End)
	})
}

// Filter returns the flows for which keep returns true.
func Filter(flows []domain.CashFlow, keep func(domain.CashFlow) bool) []domain.CashFlow {
	out := make([]domain.CashFlow, 0, len(flows))
	for _, f := range flows {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// Totals summarizes flows by direction.
type Totals struct {
	Invested  decimal.Decimal `json:"invested"`  // buys, as a positive amount
	Proceeds  decimal.Decimal `json:"proceeds"`  // sales
	Dividends decimal.Decimal `json:"dividends"` // net of withholding
	Fees      decimal.Decimal `json:"fees"`      // standalone fees, as a positive amount
}

// NetInvested is what the investor put in minus what they took out.
func (t Totals) NetInvested() decimal.Decimal {
	return t.Invested.Add(t.Fees).Sub(t.Proceeds).Sub(t.Dividends)
}

// Summarize adds up flows by type.
func Summarize(flows []domain.CashFlow) Totals {
	t := Totals{Invested: decimal.Zero, Proceeds: decimal.Zero, Dividends: decimal.Zero, Fees: decimal.Zero}
	for _, f := range flows {
		switch f.FlowType {
		case domain.FlowBuy:
			t.Invested = t.Invested.Sub(f.AmountBaseCurrency)
		case domain.FlowSell:
			t.Proceeds = t.Proceeds.Add(f.AmountBaseCurrency)
		case domain.FlowDividend:
			t.Dividends = t.Dividends.Add(f.AmountBaseCurrency)
		case domain.FlowFee:
			t.Fees = t.Fees.Sub(f.AmountBaseCurrency)
		}
	}
	return t
}
