// Package ledger stores portfolios and their append-only transaction history.
// Transactions are never updated or deleted; corrections are recorded as new,
// offsetting transactions.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
	"github.com/aristath/lotledger/internal/utils"
)

// Repository handles ledger persistence in ledger.db.
type Repository struct {
	ledgerDB *sql.DB        // ledger.db - portfolios and transactions tables
	log      zerolog.Logger // Structured logger
}

// NewRepository creates a new ledger repository.
//
// Parameters:
//   - ledgerDB: Database connection to ledger.db
//   - log: Structured logger
//
// Returns:
//   - *Repository: Initialized repository instance
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "ledger").Logger(),
	}
}

// CreatePortfolio stores a new portfolio. An empty ID gets a generated UUID and
// a zero CreatedAt is set to now.
//
// Parameters:
//   - ctx: Request context
//   - p: Portfolio to create
//
// Returns:
//   - domain.Portfolio: The stored portfolio
//   - error: ValidationError for a bad currency or duplicate id
func (r *Repository) CreatePortfolio(ctx context.Context, p domain.Portfolio) (domain.Portfolio, error) {
	p.BaseCurrency = money.NormalizeCurrency(p.BaseCurrency)
	if err := money.ValidateCurrency(p.BaseCurrency); err != nil {
		return domain.Portfolio{}, domain.NewValidationError("", "base_currency", "%v", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return domain.Portfolio{}, domain.NewValidationError("", "name", "portfolio name is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	existing, err := r.GetPortfolio(ctx, p.ID)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return domain.Portfolio{}, err
	}
	if existing != nil {
		return domain.Portfolio{}, domain.NewValidationError("", "id", "portfolio %s already exists", p.ID)
	}

	_, err = r.ledgerDB.ExecContext(ctx,
		`INSERT INTO portfolios (id, name, base_currency, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.BaseCurrency, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("failed to insert portfolio: %w", err)
	}

	r.log.Info().Str("portfolio_id", p.ID).Str("base_currency", p.BaseCurrency).Msg("Created portfolio")
	return p, nil
}

// GetPortfolio retrieves a portfolio by id.
//
// Returns:
//   - *domain.Portfolio: The portfolio
//   - error: utils.ErrNotFound (wrapped) if it does not exist
func (r *Repository) GetPortfolio(ctx context.Context, id string) (*domain.Portfolio, error) {
	row := r.ledgerDB.QueryRowContext(ctx,
		`SELECT id, name, base_currency, created_at FROM portfolios WHERE id = ?`, id)

	p, err := scanPortfolio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", id, utils.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &p, nil
}

// ListPortfolios returns every portfolio ordered by id.
func (r *Repository) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.ledgerDB.QueryContext(ctx,
		`SELECT id, name, base_currency, created_at FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	portfolios := make([]domain.Portfolio, 0)
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return portfolios, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(s scanner) (domain.Portfolio, error) {
	var p domain.Portfolio
	var createdAt int64
	if err := s.Scan(&p.ID, &p.Name, &p.BaseCurrency, &createdAt); err != nil {
		return domain.Portfolio{}, err
	}
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	return p, nil
}

// Append validates and stores transactions for one portfolio in a single
// database transaction. Ids are generated for transactions without one and
// sequences are assigned in the order given. Either every transaction is
// stored or none is.
//
// Parameters:
//   - ctx: Request context
//   - portfolioID: Owner of the transactions
//   - txs: Transactions to append
//
// Returns:
//   - []domain.Transaction: The stored transactions with ids and sequences
//   - error: ValidationError for malformed input, ErrNotFound for an unknown portfolio
func (r *Repository) Append(ctx context.Context, portfolioID string, txs []domain.Transaction) ([]domain.Transaction, error) {
	if len(txs) == 0 {
		return nil, domain.NewValidationError("", "transactions", "at least one transaction is required")
	}
	if _, err := r.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}

	prepared := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		if tx.PortfolioID == "" {
			tx.PortfolioID = portfolioID
		}
		if tx.PortfolioID != portfolioID {
			return nil, domain.NewValidationError(tx.ID, "portfolio_id", "transaction belongs to portfolio %s", tx.PortfolioID)
		}
		tx.Currency = money.NormalizeCurrency(tx.Currency)
		tx.TradeDate = tx.TradeDate.UTC()
		if err := tx.Validate(); err != nil {
			return nil, err
		}
		prepared[i] = tx
	}

	now := time.Now().UnixNano()
	err := database.WithTransaction(r.ledgerDB, func(dbTx *sql.Tx) error {
		stmt, err := dbTx.PrepareContext(ctx, `
			INSERT INTO transactions
				(id, portfolio_id, instrument_id, kind, trade_date, quantity, price_per_unit, currency, fees, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare transaction insert: %w", err)
		}
		defer stmt.Close()

		for i := range prepared {
			tx := &prepared[i]
			res, err := stmt.ExecContext(ctx,
				tx.ID, tx.PortfolioID, tx.InstrumentID, string(tx.Kind), tx.TradeDate.UnixNano(),
				tx.Quantity.String(), tx.PricePerUnit.String(), tx.Currency, tx.Fees.String(), now,
			)
			if err != nil {
				if strings.Contains(err.Error(), "UNIQUE") {
					return domain.NewValidationError(tx.ID, "id", "transaction id already exists")
				}
				return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
			}
			seq, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to read sequence of %s: %w", tx.ID, err)
			}
			tx.Sequence = seq
		}
		return nil
	})
	if err != nil {
		var valErr *domain.ValidationError
		if errors.As(err, &valErr) {
			return nil, valErr
		}
		return nil, err
	}

	r.log.Info().Str("portfolio_id", portfolioID).Int("count", len(prepared)).Msg("Appended transactions")
	return prepared, nil
}

// Transactions returns the portfolio's history in replay order: trade date,
// then ledger sequence.
func (r *Repository) Transactions(ctx context.Context, portfolioID string) ([]domain.Transaction, error) {
	return r.query(ctx, `
		SELECT sequence, id, portfolio_id, instrument_id, kind, trade_date, quantity, price_per_unit, currency, fees
		FROM transactions
		WHERE portfolio_id = ?
		ORDER BY trade_date ASC, sequence ASC
	`, portfolioID)
}

// TransactionsBetween returns transactions dated within [from, to] in replay
// order. Zero bounds are open.
func (r *Repository) TransactionsBetween(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT sequence, id, portfolio_id, instrument_id, kind, trade_date, quantity, price_per_unit, currency, fees
		FROM transactions
		WHERE portfolio_id = ?
	`
	args := []interface{}{portfolioID}
	if !from.IsZero() {
		query += " AND trade_date >= ?"
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += " AND trade_date <= ?"
		args = append(args, to.UnixNano())
	}
	query += " ORDER BY trade_date ASC, sequence ASC"
	return r.query(ctx, query, args...)
}

// Currencies returns the distinct trade currencies used by a portfolio.
func (r *Repository) Currencies(ctx context.Context, portfolioID string) ([]string, error) {
	rows, err := r.ledgerDB.QueryContext(ctx,
		`SELECT DISTINCT currency FROM transactions WHERE portfolio_id = ? ORDER BY currency`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query currencies: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Transaction, error) {
	done := utils.MeasureDBQuery("ledger.transactions", r.log)

	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		var tx domain.Transaction
		var kind, quantity, price, fees string
		var tradeDate int64
		if err := rows.Scan(&tx.Sequence, &tx.ID, &tx.PortfolioID, &tx.InstrumentID, &kind,
			&tradeDate, &quantity, &price, &tx.Currency, &fees); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Kind = domain.TransactionKind(kind)
		tx.TradeDate = time.Unix(0, tradeDate).UTC()
		if tx.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("corrupt quantity %q on %s: %w", quantity, tx.ID, err)
		}
		if tx.PricePerUnit, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("corrupt price %q on %s: %w", price, tx.ID, err)
		}
		if tx.Fees, err = decimal.NewFromString(fees); err != nil {
			return nil, fmt.Errorf("corrupt fees %q on %s: %w", fees, tx.ID, err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	done(int64(len(txs)))
	return txs, nil
}

// Stamp identifies the current history of a portfolio. The ledger is
// append-only, so the entry count and the highest sequence change together
// with every append.
func (r *Repository) Stamp(ctx context.Context, portfolioID string) (string, error) {
	var count int64
	var last sql.NullInt64
	err := r.ledgerDB.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(sequence) FROM transactions WHERE portfolio_id = ?`, portfolioID,
	).Scan(&count, &last)
	if err != nil {
		return "", fmt.Errorf("failed to stamp ledger: %w", err)
	}
	return fmt.Sprintf("l%d.%d", count, last.Int64), nil
}
