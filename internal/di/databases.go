// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/config"
	"github.com/aristath/lotledger/internal/database"
)

var databaseSpecs = []struct {
	name    string
	profile database.DatabaseProfile
}{
	// ledger.db - Immutable transaction record, maximum safety
	{database.NameLedger, database.ProfileLedger},
	// history.db - Prices and FX rates
	{database.NameHistory, database.ProfileStandard},
	// portfolio.db - Derived state, rebuilt by every recompute
	{database.NamePortfolio, database.ProfileStandard},
	// cache.db - Ephemeral, maximum speed
	{database.NameCache, database.ProfileCache},
}

// InitializeDatabases opens all 4 databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	for _, spec := range databaseSpecs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile: spec.profile,
			Name:    spec.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}

		switch spec.name {
		case database.NameLedger:
			container.LedgerDB = db
		case database.NameHistory:
			container.HistoryDB = db
		case database.NamePortfolio:
			container.PortfolioDB = db
		case database.NameCache:
			container.CacheDB = db
		}

		// Apply schemas (single source of truth)
		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}
