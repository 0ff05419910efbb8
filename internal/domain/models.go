// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the type of a ledger transaction
type TransactionKind string

const (
	// KindBuy acquires units and opens a tax lot
	KindBuy TransactionKind = "BUY"
	// KindSell disposes of units, consuming lots oldest first
	KindSell TransactionKind = "SELL"
	// KindSplit multiplies open lots by the split factor held in Quantity
	KindSplit TransactionKind = "SPLIT"
	// KindBonus issues Quantity bonus units per held unit
	KindBonus TransactionKind = "BONUS"
	// KindDividend pays PricePerUnit cash per entitled unit
	KindDividend TransactionKind = "DIVIDEND"
	// KindFee is a standalone charge that never touches lots
	KindFee TransactionKind = "FEE"
)

// AllKinds lists every transaction kind in a stable order.
var AllKinds = []TransactionKind{KindBuy, KindSell, KindSplit, KindBonus, KindDividend, KindFee}

// IsValid reports whether k is a known transaction kind.
func (k TransactionKind) IsValid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsCorporateAction reports whether k is handled by the corporate action processor.
func (k TransactionKind) IsCorporateAction() bool {
	return k == KindSplit || k == KindBonus || k == KindDividend
}

// Transaction is an immutable ledger record. Corrections are new offsetting records.
//
// Field usage by kind:
//   - BUY, SELL: Quantity units at PricePerUnit, Fees in the trade currency
//   - SPLIT: Quantity is the split factor (2 for a 2:1 split)
//   - BONUS: Quantity is bonus units issued per held unit
//   - DIVIDEND: PricePerUnit is cash per unit, Quantity the entitled units
//     (zero means the open quantity on the effective date), Fees the withholding
//   - FEE: amount is Quantity*PricePerUnit + Fees; InstrumentID may be empty
type Transaction struct {
	TradeDate    time.Time       `json:"trade_date"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Fees         decimal.Decimal `json:"fees"`
	ID           string          `json:"id"`
	PortfolioID  string          `json:"portfolio_id"`
	InstrumentID string          `json:"instrument_id"`
	Kind         TransactionKind `json:"kind"`
	Currency     string          `json:"currency"`
	Sequence     int64           `json:"sequence"` // Insertion order, assigned by the ledger
}

// Gross returns Quantity * PricePerUnit using the absolute quantity.
func (t Transaction) Gross() decimal.Decimal {
	return t.Quantity.Abs().Mul(t.PricePerUnit)
}

// TaxLot is a quantity of an instrument acquired in one transaction.
// UnitCostBaseCurrency includes the acquisition fees.
type TaxLot struct {
	AcquisitionDate      time.Time       `json:"acquisition_date"`
	OriginalQuantity     decimal.Decimal `json:"original_quantity"`
	RemainingQuantity    decimal.Decimal `json:"remaining_quantity"`
	UnitCostBaseCurrency decimal.Decimal `json:"unit_cost_base_currency"`
	// RemainingCostBaseCurrency is the exact cost still attached to the open units
	RemainingCostBaseCurrency decimal.Decimal `json:"remaining_cost_base_currency"`
	LotID                     string          `json:"lot_id"`
	PortfolioID               string          `json:"portfolio_id"`
	InstrumentID              string          `json:"instrument_id"`
	SourceTransactionID       string          `json:"source_transaction_id"`
	Currency                  string          `json:"currency"` // Trade currency of the source transaction
}

// IsOpen reports whether the lot still holds units.
func (l TaxLot) IsOpen() bool {
	return l.RemainingQuantity.IsPositive()
}

// RealizedGain is the outcome of closing (part of) one lot in one sale.
type RealizedGain struct {
	SaleDate             time.Time       `json:"sale_date"`
	AcquisitionDate      time.Time       `json:"acquisition_date"`
	QuantityClosed       decimal.Decimal `json:"quantity_closed"`
	ProceedsBaseCurrency decimal.Decimal `json:"proceeds_base_currency"`
	CostBaseCurrency     decimal.Decimal `json:"cost_base_currency"`
	Gain                 decimal.Decimal `json:"gain"`
	LotID                string          `json:"lot_id"`
	SellTransactionID    string          `json:"sell_transaction_id"`
	InstrumentID         string          `json:"instrument_id"`
	HoldingPeriodDays    int             `json:"holding_period_days"`
	LongTerm             bool            `json:"long_term"`
}

// LotSnapshot is the valuation of one open lot inside a position.
type LotSnapshot struct {
	AcquisitionDate time.Time       `json:"acquisition_date"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Cost            decimal.Decimal `json:"cost"`
	MarketValue     decimal.Decimal `json:"market_value"`
	UnrealizedGain  decimal.Decimal `json:"unrealized_gain"`
	LotID           string          `json:"lot_id"`
	DaysHeld        int             `json:"days_held"`
	LongTerm        bool            `json:"long_term"`
}

// Position is a derived snapshot of one instrument at a point in time.
// All monetary fields are in the portfolio base currency except MarketPrice,
// which is quoted in the instrument currency.
type Position struct {
	AsOfDate            time.Time       `json:"as_of_date"`
	OpenQuantity        decimal.Decimal `json:"open_quantity"`
	AverageCost         decimal.Decimal `json:"average_cost"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	MarketPrice         decimal.Decimal `json:"market_price"`
	MarketValue         decimal.Decimal `json:"market_value"`
	UnrealizedGain      decimal.Decimal `json:"unrealized_gain"`
	ShortTermUnrealized decimal.Decimal `json:"short_term_unrealized"`
	LongTermUnrealized  decimal.Decimal `json:"long_term_unrealized"`
	InstrumentID        string          `json:"instrument_id"`
	Currency            string          `json:"currency"`
	Lots                []LotSnapshot   `json:"lots,omitempty"`
}

// FlowType classifies a cash flow
type FlowType string

const (
	FlowBuy      FlowType = "BUY"
	FlowSell     FlowType = "SELL"
	FlowDividend FlowType = "DIVIDEND"
	FlowFee      FlowType = "FEE"
)

// CashFlow is an external flow seen from the investor: negative for money put
// in (buys, fees), positive for money taken out (sales, dividends).
type CashFlow struct {
	Date               time.Time       `json:"date"`
	AmountBaseCurrency decimal.Decimal `json:"amount_base_currency"`
	FlowType           FlowType        `json:"flow_type"`
	TransactionID      string          `json:"transaction_id"`
	InstrumentID       string          `json:"instrument_id,omitempty"`
	Sequence           int64           `json:"sequence"`
}

// CurrencyPair identifies an FX quote: 1 Base = rate Quote.
type CurrencyPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// String returns the pair as "BASE/QUOTE".
func (p CurrencyPair) String() string {
	return p.Base + "/" + p.Quote
}

// Inverse returns the pair with base and quote swapped.
func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{Base: p.Quote, Quote: p.Base}
}

// FxRate is a dated exchange rate.
type FxRate struct {
	Date time.Time       `json:"date"`
	Rate decimal.Decimal `json:"rate"`
	Pair CurrencyPair    `json:"pair"`
}

// Price is a dated closing price quoted in the instrument currency.
type Price struct {
	Date         time.Time       `json:"date"`
	Price        decimal.Decimal `json:"price"`
	InstrumentID string          `json:"instrument_id"`
	Currency     string          `json:"currency"`
}

// Portfolio is an investor ledger with its base (reporting) currency.
type Portfolio struct {
	CreatedAt    time.Time `json:"created_at"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
}

// Period is a closed date range used by return computations.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the period is non-empty and correctly ordered.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.Before(p.End)
}
