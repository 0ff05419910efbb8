package cash_flows

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// Repository handles derived cash flow persistence in portfolio.db.
// Rows are owned by the recompute that produced them and are replaced
// wholesale on every run, so the table never drifts from the ledger.
type Repository struct {
	portfolioDB *sql.DB        // portfolio.db - cash_flows table
	log         zerolog.Logger // Structured logger
}

// NewRepository creates a new cash flow repository.
//
// Parameters:
//   - portfolioDB: Database connection to portfolio.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(portfolioDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "cash_flows").Logger(),
	}
}

// ReplaceTx deletes every flow of the portfolio and inserts flows in their
// given order. It runs inside the caller's transaction so flows are swapped
// together with the rest of the derived state.
//
// Parameters:
//   - ctx: Request context
//   - tx: Open portfolio.db transaction
//   - portfolioID: Owner of the flows
//   - baseCurrency: Currency used to round amounts to minor units
//   - flows: Flows in date/sequence order
//
// Returns:
//   - error: Error if any statement fails
func (r *Repository) ReplaceTx(ctx context.Context, tx *sql.Tx, portfolioID, baseCurrency string, flows []domain.CashFlow) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM cash_flows WHERE portfolio_id = ?", portfolioID); err != nil {
		return fmt.Errorf("failed to clear cash flows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cash_flows (portfolio_id, seq, date, amount, flow_type, transaction_id, instrument_id, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cash flow insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range flows {
		if _, err := stmt.ExecContext(ctx,
			portfolioID,
			i,
			f.Date.UnixNano(),
			money.RoundAmount(f.AmountBaseCurrency, baseCurrency).String(),
			string(f.FlowType),
			f.TransactionID,
			f.InstrumentID,
			f.Sequence,
		); err != nil {
			return fmt.Errorf("failed to insert cash flow for %s: %w", f.TransactionID, err)
		}
	}

	r.log.Debug().Str("portfolio_id", portfolioID).Int("count", len(flows)).Msg("Replaced cash flows")
	return nil
}

// List retrieves stored flows of a portfolio between from and to inclusive.
// Zero bounds are open. Results are in date/sequence order.
//
// Parameters:
//   - ctx: Request context
//   - portfolioID: Portfolio to read
//   - from: Earliest date (zero for no bound)
//   - to: Latest date (zero for no bound)
//
// Returns:
//   - []domain.CashFlow: Stored flows
//   - error: Error if query fails
func (r *Repository) List(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.CashFlow, error) {
	query := `
		SELECT date, amount, flow_type, transaction_id, instrument_id, sequence
		FROM cash_flows
		WHERE portfolio_id = ?
	`
	args := []interface{}{portfolioID}
	if !from.IsZero() {
		query += " AND date >= ?"
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += " AND date <= ?"
		args = append(args, to.UnixNano())
	}
	query += " ORDER BY seq ASC"

	rows, err := r.portfolioDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	flows := make([]domain.CashFlow, 0)
	for rows.Next() {
		var f domain.CashFlow
		var dateNanos int64
		var amount, flowType string
		if err := rows.Scan(&dateNanos, &amount, &flowType, &f.TransactionID, &f.InstrumentID, &f.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		f.Date = time.Unix(0, dateNanos).UTC()
		f.FlowType = domain.FlowType(flowType)
		f.AmountBaseCurrency, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt cash flow amount %q: %w", amount, err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}

	return flows, nil
}
