package prices

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

// Repository persists daily prices in history.db.
type Repository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewRepository creates a new price repository.
func NewRepository(historyDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "prices").Logger(),
	}
}

// Upsert stores prices in one transaction, replacing existing rows for the
// same instrument and day.
func (r *Repository) Upsert(ctx context.Context, prices []domain.Price, source string) (int, error) {
	if source == "" {
		source = "manual"
	}
	for _, p := range prices {
		if err := validatePrice(p); err != nil {
			return 0, err
		}
	}

	now := time.Now().UnixNano()
	err := database.WithTransaction(r.historyDB, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO prices (instrument_id, date, price, currency, source, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (instrument_id, date) DO UPDATE SET
				price = excluded.price, currency = excluded.currency,
				source = excluded.source, updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			if _, err := stmt.ExecContext(ctx,
				p.InstrumentID, p.Date.Format(domain.DateLayout), p.Price.String(),
				money.NormalizeCurrency(p.Currency), source, now,
			); err != nil {
				return fmt.Errorf("failed to upsert price for %s: %w", p.InstrumentID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Debug().Int("count", len(prices)).Msg("Stored prices")
	return len(prices), nil
}

// History returns prices for one instrument between from and to inclusive.
// Zero bounds are open.
func (r *Repository) History(ctx context.Context, instrumentID string, from, to time.Time) ([]domain.Price, error) {
	query := `SELECT instrument_id, date, price, currency FROM prices WHERE instrument_id = ?`
	args := []interface{}{instrumentID}
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

// LoadTable loads the full price history of the given instruments.
// An empty list loads every instrument.
func (r *Repository) LoadTable(ctx context.Context, instrumentIDs []string) (*PriceTable, error) {
	if len(instrumentIDs) == 0 {
		all, err := r.query(ctx, `SELECT instrument_id, date, price, currency FROM prices ORDER BY instrument_id, date`)
		if err != nil {
			return nil, err
		}
		return NewPriceTable(all), nil
	}

	var all []domain.Price
	for _, id := range instrumentIDs {
		history, err := r.History(ctx, id, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		all = append(all, history...)
	}
	return NewPriceTable(all), nil
}

func (r *Repository) query(ctx context.Context, query string, args ...interface{}) ([]domain.Price, error) {
	rows, err := r.historyDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Price, 0)
	for rows.Next() {
		var instrumentID, date, value, currency string
		if err := rows.Scan(&instrumentID, &date, &value, &currency); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}

		day, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q for %s: %w", date, instrumentID, err)
		}
		price, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid stored price %q for %s: %w", value, instrumentID, err)
		}

		out = append(out, domain.Price{InstrumentID: instrumentID, Date: day, Price: price, Currency: currency})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prices: %w", err)
	}
	return out, nil
}

func validatePrice(p domain.Price) error {
	if p.InstrumentID == "" {
		return domain.NewValidationError("", "instrument_id", "instrument id is required")
	}
	if p.Date.IsZero() {
		return domain.NewValidationError("", "date", "price date is required")
	}
	if p.Price.IsNegative() {
		return domain.NewValidationError("", "price", "price must not be negative")
	}
	if err := money.ValidateCurrency(money.NormalizeCurrency(p.Currency)); err != nil {
		return domain.NewValidationError("", "currency", "%v", err)
	}
	return nil
}

// Stamp identifies the current content of the price table. It changes
// whenever a price is inserted or replaced.
func (r *Repository) Stamp(ctx context.Context) (string, error) {
	var count int64
	var updated sql.NullInt64
	err := r.historyDB.QueryRowContext(ctx, `SELECT COUNT(*), MAX(updated_at) FROM prices`).Scan(&count, &updated)
	if err != nil {
		return "", fmt.Errorf("failed to stamp prices: %w", err)
	}
	return fmt.Sprintf("p%d.%d", count, updated.Int64), nil
}
