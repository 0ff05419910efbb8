package portfolio

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/corporate_actions"
	"github.com/aristath/lotledger/internal/modules/recompute"
	"github.com/aristath/lotledger/internal/money"
	"github.com/aristath/lotledger/internal/utils"
)

// RunInfo describes the last persisted recompute of a portfolio.
type RunInfo struct {
	ComputedAt         time.Time                     `json:"computed_at"`
	PortfolioID        string                        `json:"portfolio_id"`
	Fingerprint        string                        `json:"fingerprint"`
	TransactionCount   int                           `json:"transaction_count"`
	LotCount           int                           `json:"lot_count"`
	InstrumentFailures []recompute.InstrumentFailure `json:"instrument_failures"`
}

// DerivedRepository persists recompute results in portfolio.db. Every table
// holds rows owned by the last recompute and is swapped wholesale, so readers
// never see a mix of two runs.
//
// Quantities and costs that feed further computation are stored exactly;
// reported amounts are rounded to the base currency's minor unit.
type DerivedRepository struct {
	portfolioDB *sql.DB
	flows       *cash_flows.Repository
	log         zerolog.Logger
}

// NewDerivedRepository creates a new derived state repository.
//
// Parameters:
//   - portfolioDB: Database connection to portfolio.db
//   - flows: Cash flow repository sharing the same database
//   - log: Structured logger
//
// Returns:
//   - *DerivedRepository: Initialized repository instance
func NewDerivedRepository(portfolioDB *sql.DB, flows *cash_flows.Repository, log zerolog.Logger) *DerivedRepository {
	return &DerivedRepository{
		portfolioDB: portfolioDB,
		flows:       flows,
		log:         log.With().Str("repo", "derived_state").Logger(),
	}
}

// Replace swaps the stored derived state of a portfolio for result inside one
// database transaction.
//
// Parameters:
//   - ctx: Request context
//   - result: Fingerprinted recompute result
//   - computedAt: When the recompute ran
//
// Returns:
//   - error: Error if any statement fails; nothing is changed in that case
func (r *DerivedRepository) Replace(ctx context.Context, result *recompute.Result, computedAt time.Time) error {
	pid := result.PortfolioID
	base := result.BaseCurrency

	err := database.WithTransaction(r.portfolioDB, func(tx *sql.Tx) error {
		for _, table := range []string{"tax_lots", "realized_gains", "audit_log"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE portfolio_id = ?", pid); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		if err := r.insertLots(ctx, tx, result); err != nil {
			return err
		}
		if err := r.insertGains(ctx, tx, pid, base, result.RealizedGains); err != nil {
			return err
		}
		if err := r.insertAudit(ctx, tx, pid, result.AuditLog); err != nil {
			return err
		}
		if err := r.flows.ReplaceTx(ctx, tx, pid, base, result.CashFlows); err != nil {
			return err
		}

		failures, err := json.Marshal(result.InstrumentFailures)
		if err != nil {
			return fmt.Errorf("failed to encode instrument failures: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recompute_runs (portfolio_id, fingerprint, transaction_count, lot_count, failure_count, failures, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (portfolio_id) DO UPDATE SET
				fingerprint = excluded.fingerprint,
				transaction_count = excluded.transaction_count,
				lot_count = excluded.lot_count,
				failure_count = excluded.failure_count,
				failures = excluded.failures,
				computed_at = excluded.computed_at
		`, pid, result.Fingerprint, result.TransactionCount, len(result.Lots),
			len(result.InstrumentFailures), string(failures), computedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("failed to record recompute run: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().
		Str("portfolio_id", pid).
		Int("lots", len(result.Lots)).
		Int("gains", len(result.RealizedGains)).
		Int("flows", len(result.CashFlows)).
		Msg("Replaced derived state")
	return nil
}

func (r *DerivedRepository) insertLots(ctx context.Context, tx *sql.Tx, result *recompute.Result) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tax_lots (portfolio_id, lot_id, position, instrument_id, acquisition_date,
			original_quantity, remaining_quantity, unit_cost, remaining_cost, source_transaction_id, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare lot insert: %w", err)
	}
	defer stmt.Close()

	for i, l := range result.Lots {
		if _, err := stmt.ExecContext(ctx,
			result.PortfolioID, l.LotID, i, l.InstrumentID, l.AcquisitionDate.UnixNano(),
			l.OriginalQuantity.String(), l.RemainingQuantity.String(),
			l.UnitCostBaseCurrency.String(), l.RemainingCostBaseCurrency.String(),
			l.SourceTransactionID, l.Currency,
		); err != nil {
			return fmt.Errorf("failed to insert lot %s: %w", l.LotID, err)
		}
	}
	return nil
}

func (r *DerivedRepository) insertGains(ctx context.Context, tx *sql.Tx, pid, base string, gains []domain.RealizedGain) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO realized_gains (portfolio_id, seq, lot_id, sell_transaction_id, instrument_id, sale_date,
			acquisition_date, quantity_closed, proceeds, cost, gain, holding_period_days, long_term)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare gain insert: %w", err)
	}
	defer stmt.Close()

	for i, g := range gains {
		longTerm := 0
		if g.LongTerm {
			longTerm = 1
		}
		if _, err := stmt.ExecContext(ctx,
			pid, i, g.LotID, g.SellTransactionID, g.InstrumentID, g.SaleDate.UnixNano(),
			g.AcquisitionDate.UnixNano(), g.QuantityClosed.String(),
			money.RoundAmount(g.ProceedsBaseCurrency, base).String(),
			money.RoundAmount(g.CostBaseCurrency, base).String(),
			money.RoundAmount(g.Gain, base).String(),
			g.HoldingPeriodDays, longTerm,
		); err != nil {
			return fmt.Errorf("failed to insert gain for %s: %w", g.SellTransactionID, err)
		}
	}
	return nil
}

func (r *DerivedRepository) insertAudit(ctx context.Context, tx *sql.Tx, pid string, entries []corporate_actions.AuditEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_log (portfolio_id, seq, transaction_id, action, instrument_id, effective_date, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		detail, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode audit entry %s: %w", e.TransactionID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			pid, i, e.TransactionID, string(e.Kind), e.InstrumentID, e.EffectiveDate.UnixNano(), string(detail),
		); err != nil {
			return fmt.Errorf("failed to insert audit entry %s: %w", e.TransactionID, err)
		}
	}
	return nil
}

// Lots returns the stored lots of a portfolio in FIFO order per instrument.
// An empty instrumentID returns every instrument.
func (r *DerivedRepository) Lots(ctx context.Context, portfolioID, instrumentID string) ([]domain.TaxLot, error) {
	query := `
		SELECT lot_id, instrument_id, acquisition_date, original_quantity, remaining_quantity,
			unit_cost, remaining_cost, source_transaction_id, currency
		FROM tax_lots
		WHERE portfolio_id = ?
	`
	args := []interface{}{portfolioID}
	if instrumentID != "" {
		query += " AND instrument_id = ?"
		args = append(args, instrumentID)
	}
	query += " ORDER BY position ASC"

	rows, err := r.portfolioDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	lots := make([]domain.TaxLot, 0)
	for rows.Next() {
		l := domain.TaxLot{PortfolioID: portfolioID}
		var acquired int64
		var original, remaining, unitCost, remainingCost string
		if err := rows.Scan(&l.LotID, &l.InstrumentID, &acquired, &original, &remaining,
			&unitCost, &remainingCost, &l.SourceTransactionID, &l.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		l.AcquisitionDate = time.Unix(0, acquired).UTC()
		if err := parseDecimals(l.LotID,
			decimalField{original, &l.OriginalQuantity},
			decimalField{remaining, &l.RemainingQuantity},
			decimalField{unitCost, &l.UnitCostBaseCurrency},
			decimalField{remainingCost, &l.RemainingCostBaseCurrency},
		); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}
	return lots, nil
}

// RealizedGains returns stored gains with a sale date within [from, to].
// Zero bounds are open.
func (r *DerivedRepository) RealizedGains(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.RealizedGain, error) {
	query := `
		SELECT lot_id, sell_transaction_id, instrument_id, sale_date, acquisition_date,
			quantity_closed, proceeds, cost, gain, holding_period_days, long_term
		FROM realized_gains
		WHERE portfolio_id = ?
	`
	args := []interface{}{portfolioID}
	if !from.IsZero() {
		query += " AND sale_date >= ?"
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += " AND sale_date <= ?"
		args = append(args, to.UnixNano())
	}
	query += " ORDER BY seq ASC"

	rows, err := r.portfolioDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized gains: %w", err)
	}
	defer rows.Close()

	gains := make([]domain.RealizedGain, 0)
	for rows.Next() {
		var g domain.RealizedGain
		var sold, acquired int64
		var qty, proceeds, cost, gain string
		var longTerm int
		if err := rows.Scan(&g.LotID, &g.SellTransactionID, &g.InstrumentID, &sold, &acquired,
			&qty, &proceeds, &cost, &gain, &g.HoldingPeriodDays, &longTerm); err != nil {
			return nil, fmt.Errorf("failed to scan realized gain: %w", err)
		}
		g.SaleDate = time.Unix(0, sold).UTC()
		g.AcquisitionDate = time.Unix(0, acquired).UTC()
		g.LongTerm = longTerm == 1
		if err := parseDecimals(g.SellTransactionID,
			decimalField{qty, &g.QuantityClosed},
			decimalField{proceeds, &g.ProceedsBaseCurrency},
			decimalField{cost, &g.CostBaseCurrency},
			decimalField{gain, &g.Gain},
		); err != nil {
			return nil, err
		}
		gains = append(gains, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating realized gains: %w", err)
	}
	return gains, nil
}

// AuditLog returns the stored corporate action entries in application order.
func (r *DerivedRepository) AuditLog(ctx context.Context, portfolioID string) ([]corporate_actions.AuditEntry, error) {
	rows, err := r.portfolioDB.QueryContext(ctx,
		`SELECT detail FROM audit_log WHERE portfolio_id = ? ORDER BY seq ASC`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]corporate_actions.AuditEntry, 0)
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var e corporate_actions.AuditEntry
		if err := json.Unmarshal([]byte(detail), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}

// CashFlows returns the stored flows within [from, to].
func (r *DerivedRepository) CashFlows(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.CashFlow, error) {
	return r.flows.List(ctx, portfolioID, from, to)
}

// LastRun returns the most recent recompute of a portfolio.
//
// Returns:
//   - *RunInfo: Run metadata
//   - error: utils.ErrNotFound (wrapped) if the portfolio was never recomputed
func (r *DerivedRepository) LastRun(ctx context.Context, portfolioID string) (*RunInfo, error) {
	var info RunInfo
	var failures string
	var computedAt int64
	err := r.portfolioDB.QueryRowContext(ctx, `
		SELECT portfolio_id, fingerprint, transaction_count, lot_count, failures, computed_at
		FROM recompute_runs WHERE portfolio_id = ?
	`, portfolioID).Scan(&info.PortfolioID, &info.Fingerprint, &info.TransactionCount, &info.LotCount, &failures, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no recompute for portfolio %s: %w", portfolioID, utils.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last recompute: %w", err)
	}

	info.ComputedAt = time.Unix(0, computedAt).UTC()
	if err := json.Unmarshal([]byte(failures), &info.InstrumentFailures); err != nil {
		return nil, fmt.Errorf("corrupt instrument failures: %w", err)
	}
	return &info, nil
}

type decimalField struct {
	raw string
	dst *decimal.Decimal
}

func parseDecimals(owner string, fields ...decimalField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("corrupt decimal %q on %s: %w", f.raw, owner, err)
		}
		*f.dst = d
	}
	return nil
}
