// Package corporate_actions applies splits, bonus issues and cash dividends
// to the lots held by a tracker.
package corporate_actions

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/lots"
)

// AuditEntry records one applied corporate action.
type AuditEntry struct {
	EffectiveDate time.Time              `json:"effective_date"`
	Ratio         *decimal.Decimal       `json:"ratio,omitempty"`
	Entitled      *decimal.Decimal       `json:"entitled_quantity,omitempty"`
	CashAmount    *decimal.Decimal       `json:"cash_amount_base_currency,omitempty"`
	TransactionID string                 `json:"transaction_id"`
	InstrumentID  string                 `json:"instrument_id"`
	Kind          domain.TransactionKind `json:"kind"`
	Description   string                 `json:"description"`
	Adjustments   []lots.LotAdjustment   `json:"adjustments,omitempty"`
}

// Outcome is the result of applying one action.
type Outcome struct {
	Audit    AuditEntry
	CashFlow *domain.CashFlow // set for dividends only
}

// Processor applies corporate actions. It keeps no state of its own; all lot
// state lives in the tracker passed to Apply.
type Processor struct {
	log zerolog.Logger
}

// NewProcessor creates a corporate action processor.
func NewProcessor(log zerolog.Logger) *Processor {
	return &Processor{log: log.With().Str("component", "corporate_actions").Logger()}
}

// Apply dispatches tx to the matching action. fxRate converts the dividend
// currency to the base currency and is ignored by splits and bonus issues.
func (p *Processor) Apply(tracker *lots.Tracker, tx domain.Transaction, fxRate decimal.Decimal) (Outcome, error) {
	switch tx.Kind {
	case domain.KindSplit:
		return p.applyScale(tracker, tx, tx.Quantity)
	case domain.KindBonus:
		// b bonus units per held unit multiplies holdings by 1+b
		return p.applyScale(tracker, tx, decimal.NewFromInt(1).Add(tx.Quantity))
	case domain.KindDividend:
		return p.applyDividend(tracker, tx, fxRate)
	default:
		return Outcome{}, domain.NewValidationError(tx.ID, "kind", "%s is not a corporate action", tx.Kind)
	}
}

func (p *Processor) invalid(tx domain.Transaction, format string, args ...interface{}) error {
	return &domain.InvalidCorporateActionError{
		TransactionID: tx.ID,
		InstrumentID:  tx.InstrumentID,
		Kind:          tx.Kind,
		Reason:        fmt.Sprintf(format, args...),
	}
}

func (p *Processor) applyScale(tracker *lots.Tracker, tx domain.Transaction, ratio decimal.Decimal) (Outcome, error) {
	if !ratio.IsPositive() || (tx.Kind == domain.KindBonus && !tx.Quantity.IsPositive()) {
		return Outcome{}, p.invalid(tx, "ratio must be positive, got %s", tx.Quantity)
	}
	if !tracker.OpenQuantity(tx.InstrumentID).IsPositive() {
		return Outcome{}, p.invalid(tx, "no open lots on %s", tx.TradeDate.Format(domain.DateLayout))
	}

	adjustments, err := tracker.Scale(tx.InstrumentID, ratio)
	if err != nil {
		return Outcome{}, err
	}

	p.log.Debug().
		Str("transaction_id", tx.ID).
		Str("instrument_id", tx.InstrumentID).
		Str("kind", string(tx.Kind)).
		Str("ratio", ratio.String()).
		Int("lots", len(adjustments)).
		Msg("Applied corporate action")

	return Outcome{
		Audit: AuditEntry{
			EffectiveDate: tx.TradeDate,
			Ratio:         &ratio,
			TransactionID: tx.ID,
			InstrumentID:  tx.InstrumentID,
			Kind:          tx.Kind,
			Description:   fmt.Sprintf("%s x%s on %d open lots", tx.Kind, ratio, len(adjustments)),
			Adjustments:   adjustments,
		},
	}, nil
}

// applyDividend pays PricePerUnit on the entitled quantity, net of the
// withholding in Fees. Lots are not touched.
func (p *Processor) applyDividend(tracker *lots.Tracker, tx domain.Transaction, fxRate decimal.Decimal) (Outcome, error) {
	if !tx.PricePerUnit.IsPositive() {
		return Outcome{}, p.invalid(tx, "dividend per unit must be positive, got %s", tx.PricePerUnit)
	}
	open := tracker.OpenQuantity(tx.InstrumentID)
	if !open.IsPositive() {
		return Outcome{}, p.invalid(tx, "no open lots on %s", tx.TradeDate.Format(domain.DateLayout))
	}

	entitled := tx.Quantity
	if entitled.IsZero() {
		entitled = open
	}
	gross := entitled.Mul(tx.PricePerUnit)
	if tx.Fees.GreaterThan(gross) {
		return Outcome{}, p.invalid(tx, "withholding %s exceeds gross dividend %s", tx.Fees, gross)
	}
	net := gross.Sub(tx.Fees).Mul(fxRate)
	flow := cash_flows.Dividend(tx, net)

	p.log.Debug().
		Str("transaction_id", tx.ID).
		Str("instrument_id", tx.InstrumentID).
		Str("entitled", entitled.String()).
		Str("net", net.String()).
		Msg("Applied dividend")

	return Outcome{
		Audit: AuditEntry{
			EffectiveDate: tx.TradeDate,
			Entitled:      &entitled,
			CashAmount:    &net,
			TransactionID: tx.ID,
			InstrumentID:  tx.InstrumentID,
			Kind:          tx.Kind,
			Description:   fmt.Sprintf("DIVIDEND %s per unit on %s units", tx.PricePerUnit, entitled),
		},
		CashFlow: &flow,
	}, nil
}
