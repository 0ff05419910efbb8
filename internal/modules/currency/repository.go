package currency

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// Repository persists dated FX rates in history.db.
type Repository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a new FX rate repository.
//
// Parameters:
//   - historyDB: Database connection to history.db
//   - log: Structured logger
func NewRepository(historyDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "fx_rates").Logger(),
	}
}

// Upsert stores rates, replacing any existing rate for the same pair and day.
// All rates are written in one transaction. Returns the number of rates written.
func (r *Repository) Upsert(ctx context.Context, rates []domain.FxRate, source string) (int, error) {
	if source == "" {
		source = "manual"
	}

	for _, fx := range rates {
		if err := validateRate(fx); err != nil {
			return 0, err
		}
	}

	now := time.Now().UnixNano()
	err := database.WithTransaction(r.historyDB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO fx_rates (base, quote, date, rate, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (base, quote, date) DO UPDATE SET
				rate = excluded.rate, source = excluded.source, updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare fx rate upsert: %w", err)
		}
		defer stmt.Close()

		for _, fx := range rates {
			if _, err := stmt.ExecContext(ctx,
				fx.Pair.Base, fx.Pair.Quote, fx.Date.Format(domain.DateLayout), fx.Rate.String(), source, now,
			); err != nil {
				return fmt.Errorf("failed to upsert %s rate: %w", fx.Pair, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug().Int("count", len(rates)).Str("source", source).Msg("Stored FX rates")
	return len(rates), nil
}

// List returns rates for pair between from and to inclusive, oldest first.
// Zero bounds are open.
func (r *Repository) List(ctx context.Context, pair domain.CurrencyPair, from, to time.Time) ([]domain.FxRate, error) {
	query := `SELECT base, quote, date, rate FROM fx_rates WHERE base = ? AND quote = ?`
	args := []interface{}{pair.Base, pair.Quote}

	if !from.IsZero() {
		query += " AND date >= ?"
		args = append(args, from.Format(domain.DateLayout))
	}
	if !to.IsZero() {
		query += " AND date <= ?"
		args = append(args, to.Format(domain.DateLayout))
	}
	query += " ORDER BY date ASC"

	return r.query(ctx, query, args...)
}

// All returns every stored rate, grouped by pair and ordered by date.
func (r *Repository) All(ctx context.Context) ([]domain.FxRate, error) {
	return r.query(ctx, `SELECT base, quote, date, rate FROM fx_rates ORDER BY base, quote, date`)
}

// LoadTable loads every stored rate into an in-memory RateTable for the engine.
func (r *Repository) LoadTable(ctx context.Context) (*RateTable, error) {
	rates, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewRateTable(rates), nil
}

// LatestDate returns the most recent stored date for pair, or the zero time if none.
func (r *Repository) LatestDate(ctx context.Context, pair domain.CurrencyPair) (time.Time, error) {
	var date sql.NullString
	err := r.historyDB.QueryRowContext(ctx,
		`SELECT MAX(date) FROM fx_rates WHERE base = ? AND quote = ?`, pair.Base, pair.Quote,
	).Scan(&date)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest %s rate date: %w", pair, err)
	}
	if !date.Valid {
		return time.Time{}, nil
	}
	return time.ParseInLocation(domain.DateLayout, date.String, time.UTC)
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.FxRate, error) {
	rows, err := r.historyDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fx rates: %w", err)
	}
	defer rows.Close()

	rates := make([]domain.FxRate, 0)
	for rows.Next() {
		var base, quote, date, value string
		if err := rows.Scan(&base, &quote, &date, &value); err != nil {
			return nil, fmt.Errorf("failed to scan fx rate: %w", err)
		}

		day, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q for %s/%s: %w", date, base, quote, err)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid stored rate %q for %s/%s: %w", value, base, quote, err)
		}

		rates = append(rates, domain.FxRate{
			Pair: domain.CurrencyPair{Base: base, Quote: quote},
			Date: day,
			Rate: rate,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fx rates: %w", err)
	}
	return rates, nil
}

func validateRate(fx domain.FxRate) error {
	if err := money.ValidateCurrency(fx.Pair.Base); err != nil {
		return domain.NewValidationError("", "base", "%v", err)
	}
	if err := money.ValidateCurrency(fx.Pair.Quote); err != nil {
		return domain.NewValidationError("", "quote", "%v", err)
	}
	if fx.Pair.Base == fx.Pair.Quote {
		return domain.NewValidationError("", "pair", "base and quote must differ")
	}
	if fx.Date.IsZero() {
		return domain.NewValidationError("", "date", "rate date is required")
	}
	if !fx.Rate.IsPositive() {
		return domain.NewValidationError("", "rate", "rate must be positive")
	}
	return nil
}

// Stamp identifies the current content of the rate table. It changes
// whenever a rate is inserted or replaced.
func (r *Repository) Stamp(ctx context.Context) (string, error) {
	var count int64
	var updated sql.NullInt64
	err := r.historyDB.QueryRowContext(ctx, `SELECT COUNT(*), MAX(updated_at) FROM fx_rates`).Scan(&count, &updated)
	if err != nil {
		return "", fmt.Errorf("failed to stamp fx rates: %w", err)
	}
	return fmt.Sprintf("r%d.%d", count, updated.Int64), nil
}
