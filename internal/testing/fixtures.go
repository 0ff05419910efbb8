package testing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// D parses a decimal literal and panics on malformed input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Ledger builds transaction streams for one portfolio with sequential ids and
// sequences, in the order the calls are made.
type Ledger struct {
	PortfolioID string
	Currency    string
	seq         int64
	txs         []domain.Transaction
}

// NewLedger creates a builder for portfolioID trading in currency.
func NewLedger(portfolioID, currency string) *Ledger {
	return &Ledger{PortfolioID: portfolioID, Currency: currency}
}

func (l *Ledger) add(kind domain.TransactionKind, instrument string, on time.Time, qty, price, fees string) *Ledger {
	l.seq++
	l.txs = append(l.txs, domain.Transaction{
		ID:           fmt.Sprintf("%s-t%03d", l.PortfolioID, l.seq),
		PortfolioID:  l.PortfolioID,
		InstrumentID: instrument,
		Kind:         kind,
		TradeDate:    on,
		Quantity:     D(qty),
		PricePerUnit: D(price),
		Fees:         D(fees),
		Currency:     l.Currency,
		Sequence:     l.seq,
	})
	return l
}

// Buy appends a BUY.
func (l *Ledger) Buy(instrument string, on time.Time, qty, price, fees string) *Ledger {
	return l.add(domain.KindBuy, instrument, on, qty, price, fees)
}

// Sell appends a SELL.
func (l *Ledger) Sell(instrument string, on time.Time, qty, price, fees string) *Ledger {
	return l.add(domain.KindSell, instrument, on, qty, price, fees)
}

// Split appends a SPLIT with the given factor.
func (l *Ledger) Split(instrument string, on time.Time, ratio string) *Ledger {
	return l.add(domain.KindSplit, instrument, on, ratio, "0", "0")
}

// Bonus appends a BONUS issuing perUnit units for every held unit.
func (l *Ledger) Bonus(instrument string, on time.Time, perUnit string) *Ledger {
	return l.add(domain.KindBonus, instrument, on, perUnit, "0", "0")
}

// Dividend appends a DIVIDEND paying perUnit on the open quantity.
func (l *Ledger) Dividend(instrument string, on time.Time, perUnit, withholding string) *Ledger {
	return l.add(domain.KindDividend, instrument, on, "0", perUnit, withholding)
}

// Fee appends an account-level FEE.
func (l *Ledger) Fee(on time.Time, amount string) *Ledger {
	return l.add(domain.KindFee, "", on, "0", "0", amount)
}

// WithCurrency switches the currency used by subsequent calls.
func (l *Ledger) WithCurrency(currency string) *Ledger {
	l.Currency = currency
	return l
}

// Transactions returns a copy of the built stream.
func (l *Ledger) Transactions() []domain.Transaction {
	out := make([]domain.Transaction, len(l.txs))
	copy(out, l.txs)
	return out
}

// Last returns the most recently added transaction.
func (l *Ledger) Last() domain.Transaction {
	return l.txs[len(l.txs)-1]
}
