package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())
	return db
}

func TestMigrate_CreatesTablesAndIsIdempotent(t *testing.T) {
	db := newTestDB(t, NameLedger, ProfileLedger)

	// Second run must be a no-op
	require.NoError(t, db.Migrate())

	var count int
	err := db.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('portfolios', 'transactions')",
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMigrate_AllSchemas(t *testing.T) {
	for _, name := range []string{NameLedger, NameHistory, NamePortfolio, NameCache} {
		t.Run(name, func(t *testing.T) {
			db := newTestDB(t, name, ProfileStandard)
			assert.Equal(t, name, db.Name())
		})
	}
}

func TestLedgerTransactionsAreImmutable(t *testing.T) {
	db := newTestDB(t, NameLedger, ProfileLedger)
	conn := db.Conn()

	_, err := conn.Exec(`INSERT INTO portfolios (id, name, base_currency, created_at) VALUES ('p1', 'Main', 'EUR', 0)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO transactions
		(id, portfolio_id, instrument_id, kind, trade_date, quantity, price_per_unit, currency, fees, created_at)
		VALUES ('t1', 'p1', 'AAPL', 'BUY', 0, '10', '100', 'USD', '0', 0)`)
	require.NoError(t, err)

	_, err = conn.Exec(`UPDATE transactions SET quantity = '11' WHERE id = 't1'`)
	assert.ErrorContains(t, err, "immutable")

	_, err = conn.Exec(`DELETE FROM transactions WHERE id = 't1'`)
	assert.ErrorContains(t, err, "immutable")
}

func TestWithTransaction(t *testing.T) {
	db := newTestDB(t, NameHistory, ProfileStandard)
	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.Exec(`INSERT INTO prices (instrument_id, date, price, currency, updated_at) VALUES (?, '2024-01-01', '1', 'EUR', 0)`, id)
		return err
	}
	count := func() int {
		var n int
		require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM prices").Scan(&n))
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error { return insert(tx, "A") })
		require.NoError(t, err)
		assert.Equal(t, 1, count())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		sentinel := errors.New("boom")
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx, "B"))
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, count())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx, "C"))
			panic("unexpected")
		})
		assert.ErrorContains(t, err, "panic in transaction")
		assert.Equal(t, 1, count())
	})

	t.Run("nil connection", func(t *testing.T) {
		assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
	})
}

func TestSnapshotTo(t *testing.T) {
	db := newTestDB(t, NameLedger, ProfileLedger)
	_, err := db.Conn().Exec(`INSERT INTO portfolios (id, name, base_currency, created_at) VALUES ('p1', 'Main', 'EUR', 0)`)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snap", "ledger.db")
	require.NoError(t, db.SnapshotTo(context.Background(), dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	snap, err := New(Config{Path: dest, Name: NameLedger})
	require.NoError(t, err)
	defer snap.Close()

	var name string
	require.NoError(t, snap.Conn().QueryRow("SELECT name FROM portfolios WHERE id = 'p1'").Scan(&name))
	assert.Equal(t, "Main", name)
}

func TestHealthAndStats(t *testing.T) {
	db := newTestDB(t, NamePortfolio, ProfileStandard)

	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, db.QuickCheck(context.Background()))
	require.NoError(t, db.WALCheckpoint(""))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageSize)
}
