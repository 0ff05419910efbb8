/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to repositories and services.
 */
package di

import (
	"errors"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/clients/exchangerate"
	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/ledger"
	"github.com/aristath/lotledger/internal/modules/portfolio"
	"github.com/aristath/lotledger/internal/modules/positions"
	"github.com/aristath/lotledger/internal/modules/prices"
	"github.com/aristath/lotledger/internal/modules/recompute"
	"github.com/aristath/lotledger/internal/reliability"
	"github.com/aristath/lotledger/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: 4-database architecture (ledger, history, portfolio, cache)
 * - Repositories: Data access layer (portfolios, transactions, prices, rates, derived state)
 * - Services: The accounting engine and the portfolio service on top of it
 * - Background: Scheduler, recompute listener, FX sync and backups
 */
type Container struct {
	// Databases
	LedgerDB    *database.DB // Portfolios and the append-only transaction log
	HistoryDB   *database.DB // Prices and FX rates
	PortfolioDB *database.DB // Derived lots, gains, cash flows, audit entries
	CacheDB     *database.DB // Recompute results, performance reports, API responses

	// Repositories
	LedgerRepo     *ledger.Repository
	PriceRepo      *prices.Repository
	RateRepo       *currency.Repository
	CashFlowRepo   *cash_flows.Repository
	DerivedRepo    *portfolio.DerivedRepository
	ClientDataRepo *clientdata.Repository

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Engine and services
	Orchestrator     *recompute.Orchestrator
	Calculator       *positions.Calculator
	PortfolioService *portfolio.PortfolioService

	// Background
	ExchangeRateClient *exchangerate.Client
	RateSync           *currency.RateSync           // nil when no FX pairs are configured
	BackupService      *reliability.BackupService   // nil when backups are disabled
	Scheduler          *scheduler.Scheduler
	RecomputeListener  *scheduler.RecomputeListener
}

// JobInstances holds the registered jobs for manual triggering via API.
// Optional jobs are nil when their feature is not configured.
type JobInstances struct {
	RecomputeAll     *scheduler.RecomputeAllJob
	FXSync           *scheduler.FXSyncJob
	Backup           *scheduler.BackupJob
	CacheCleanup     *clientdata.CleanupJob
	DailyMaintenance *reliability.DailyMaintenanceJob
	Vacuum           *reliability.VacuumJob
}

// Databases returns the open databases keyed by name.
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 4)
	for _, db := range []*database.DB{c.LedgerDB, c.HistoryDB, c.PortfolioDB, c.CacheDB} {
		if db != nil {
			dbs[db.Name()] = db
		}
	}
	return dbs
}

// Close closes every open database.
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
