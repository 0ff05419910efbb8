package clientdata

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema mirrors cache_schema.sql
const testSchema = `
CREATE TABLE recompute_cache (cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE exchangerate (pair TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
CREATE INDEX idx_recompute_cache_expires ON recompute_cache(expires_at);
CREATE INDEX idx_exchangerate_expires ON exchangerate(expires_at);
`

type cachedReport struct {
	Start  time.Time
	Value  decimal.Decimal
	Return *decimal.Decimal
	Vol    *float64
	Label  string
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func TestNewRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	assert.NotNil(t, repo)
}

func TestStoreAndGet_RoundTripsDecimals(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	ret := decimal.RequireFromString("0.0123456789012345678901")
	vol := 0.25
	in := cachedReport{
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Value:  decimal.RequireFromString("21000.123456789"),
		Return: &ret,
		Vol:    &vol,
		Label:  "p1",
	}
	require.NoError(t, repo.Store(TableRecompute, "p1|2024", in, time.Hour))

	var out cachedReport
	found, err := repo.GetIfFresh(TableRecompute, "p1|2024", &out)
	require.NoError(t, err)
	require.True(t, found)

	assert.True(t, out.Start.Equal(in.Start))
	assert.True(t, out.Value.Equal(in.Value), out.Value.String())
	require.NotNil(t, out.Return)
	assert.True(t, out.Return.Equal(ret), out.Return.String())
	require.NotNil(t, out.Vol)
	assert.Equal(t, 0.25, *out.Vol)
	assert.Equal(t, "p1", out.Label)

	var blob []byte
	var expiresAt int64
	require.NoError(t, db.QueryRow("SELECT data, expires_at FROM recompute_cache WHERE cache_key = ?", "p1|2024").Scan(&blob, &expiresAt))
	assert.NotEmpty(t, blob)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), expiresAt, 5)
}

func TestStore_Upserts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableExchangeRate, "EUR/USD", map[string]string{"rate": "1.1"}, time.Hour))
	require.NoError(t, repo.Store(TableExchangeRate, "EUR/USD", map[string]string{"rate": "1.2"}, time.Hour))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM exchangerate").Scan(&count))
	assert.Equal(t, 1, count)

	var out map[string]string
	found, err := repo.Get(TableExchangeRate, "EUR/USD", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1.2", out["rate"])
}

func TestGetIfFresh_Expired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableExchangeRate, "EUR/USD", "stale", -time.Hour))

	var out string
	found, err := repo.GetIfFresh(TableExchangeRate, "EUR/USD", &out)
	require.NoError(t, err)
	assert.False(t, found)

	// Stale data is still available as a fallback
	found, err = repo.Get(TableExchangeRate, "EUR/USD", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "stale", out)
}

func TestGet_Missing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	var out string
	found, err := repo.Get(TableRecompute, "nope", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	var out string

	assert.Error(t, repo.Store("users; DROP TABLE x", "k", "v", time.Hour))
	_, err := repo.Get("nope", "k", &out)
	assert.Error(t, err)
	_, err = repo.GetIfFresh("nope", "k", &out)
	assert.Error(t, err)
	assert.Error(t, repo.Delete("nope", "k"))
	_, err = repo.DeleteExpired("nope")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TableRecompute, "k", "v", time.Hour))
	require.NoError(t, repo.Delete(TableRecompute, "k"))

	var out string
	found, err := repo.Get(TableRecompute, "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
