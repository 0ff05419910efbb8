// Package testing provides testing utilities and helpers for lotledger.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/lotledger/internal/database"
)

// NewTestDB creates a file-backed SQLite database in t.TempDir() with the
// named schema applied ("ledger", "history", "portfolio", "cache").
// Unknown names give an empty database. The database is closed by t.Cleanup.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	profile := database.ProfileStandard
	switch name {
	case database.NameLedger:
		profile = database.ProfileLedger
	case database.NameCache:
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db
}
