// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/clients/exchangerate"
	"github.com/aristath/lotledger/internal/config"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/portfolio"
	"github.com/aristath/lotledger/internal/modules/positions"
	"github.com/aristath/lotledger/internal/modules/recompute"
	"github.com/aristath/lotledger/internal/reliability"
	"github.com/aristath/lotledger/internal/scheduler"
)

// InitializeServices creates the event system, the engine, the portfolio
// service and the optional FX sync and backup services.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Engine: pure replay and valuation, shared by every portfolio
	container.Orchestrator = recompute.NewOrchestrator(recompute.Options{
		LongTermDays: cfg.Engine.LongTermDays,
	}, log)
	container.Calculator = positions.NewCalculator(positions.Options{
		LongTermDays: cfg.Engine.LongTermDays,
	}, log)

	container.PortfolioService = portfolio.NewPortfolioService(
		container.LedgerRepo,
		container.PriceRepo,
		container.RateRepo,
		container.DerivedRepo,
		container.ClientDataRepo,
		container.Orchestrator,
		container.Calculator,
		container.EventManager,
		portfolio.Options{
			Solver:       cfg.Engine.Solver,
			RiskFreeRate: cfg.Engine.RiskFreeRate,
			CacheTTL:     cfg.Engine.CacheTTL,
			Workers:      cfg.Engine.Workers,
		},
		log,
	)

	// FX sync (only with configured pairs)
	pairs, err := cfg.FX.ParsedPairs()
	if err != nil {
		return err
	}
	container.ExchangeRateClient = exchangerate.NewClient(cfg.FX.BaseURL, container.ClientDataRepo, log)
	if len(pairs) > 0 {
		container.RateSync = currency.NewRateSync(container.RateRepo, container.ExchangeRateClient, pairs, cfg.FX.Lookback(), log)
	}

	// Backups (only with a configured bucket)
	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Store(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Prefix:          cfg.Backup.Prefix,
			Region:          cfg.Backup.Region,
			Endpoint:        cfg.Backup.Endpoint,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		container.BackupService = reliability.NewBackupService(
			container.Databases(),
			store,
			filepath.Join(cfg.DataDir, "backups"),
			cfg.Backup.RetentionDays,
			container.EventManager,
			log,
		)
	}

	container.Scheduler = scheduler.New(log)
	container.RecomputeListener = scheduler.NewRecomputeListener(container.PortfolioService, container.EventBus, log)

	log.Info().
		Int("fx_pairs", len(pairs)).
		Bool("backups", container.BackupService != nil).
		Msg("All services initialized")
	return nil
}
