package domain

import (
	"github.com/aristath/lotledger/internal/money"
)

// Validate checks the structural rules of a transaction. Semantic checks that
// depend on ledger state (open quantity, ratio sign) belong to the engine.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return NewValidationError("", "id", "transaction id is required")
	}
	if t.PortfolioID == "" {
		return NewValidationError(t.ID, "portfolio_id", "portfolio id is required")
	}
	if !t.Kind.IsValid() {
		return NewValidationError(t.ID, "kind", "unknown transaction kind %q", t.Kind)
	}
	if err := ValidateInstant(t.ID, "trade_date", t.TradeDate); err != nil {
		return err
	}
	if err := money.ValidateCurrency(t.Currency); err != nil {
		return NewValidationError(t.ID, "currency", "%v", err)
	}
	if t.Fees.IsNegative() {
		return NewValidationError(t.ID, "fees", "fees must not be negative")
	}
	if t.PricePerUnit.IsNegative() {
		return NewValidationError(t.ID, "price_per_unit", "price must not be negative")
	}
	if t.Kind != KindFee && t.InstrumentID == "" {
		return NewValidationError(t.ID, "instrument_id", "instrument id is required for %s", t.Kind)
	}

	switch t.Kind {
	case KindBuy:
		if !t.Quantity.IsPositive() {
			return NewValidationError(t.ID, "quantity", "buy quantity must be positive")
		}
	case KindSell:
		// Sales may be recorded with either sign; the absolute value is sold.
		if t.Quantity.IsZero() {
			return NewValidationError(t.ID, "quantity", "sell quantity must not be zero")
		}
		if t.Fees.GreaterThan(t.Gross()) {
			return NewValidationError(t.ID, "fees", "sale fees exceed gross proceeds")
		}
	case KindDividend, KindFee:
		if t.Quantity.IsNegative() {
			return NewValidationError(t.ID, "quantity", "%s quantity must not be negative", t.Kind)
		}
	}

	return nil
}

// ValidateOrder checks that txs are non-decreasing in trade date.
func ValidateOrder(txs []Transaction) error {
	for i := 1; i < len(txs); i++ {
		if txs[i].TradeDate.Before(txs[i-1].TradeDate) {
			return NewValidationError(txs[i].ID, "trade_date",
				"out of order: %s precedes previous transaction %s",
				txs[i].TradeDate.Format(DateLayout), txs[i-1].ID)
		}
	}
	return nil
}
