// Package main is the entry point for the lotledger service.
// It serves the tax-lot accounting and returns API over the ledger,
// market data and derived portfolio databases, and runs the background
// recompute, FX sync, backup and maintenance jobs.
//
// The application follows clean architecture principles:
// - The engine (lots, corporate actions, cash flows, returns) is pure
// - Dependency injection via DI container
// - Repository pattern for data access
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/lotledger/internal/config"
	"github.com/aristath/lotledger/internal/di"
	"github.com/aristath/lotledger/internal/server"
	"github.com/aristath/lotledger/pkg/logger"
)

// main orchestrates the startup sequence:
// 1. Loads configuration (.env, optional TOML file, environment)
// 2. Initializes logging
// 3. Wires all dependencies via DI container (databases, repositories, services, jobs)
// 4. Starts the HTTP server, the scheduler and the recompute listener
// 5. Waits for a shutdown signal and shuts down gracefully
//
// The application uses a 4-database architecture:
// - ledger.db: Portfolios and the append-only transaction log
// - history.db: Daily prices and FX rates
// - portfolio.db: Derived lots, realized gains, cash flows and audit entries
// - cache.db: Recompute results, performance reports and API responses
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting lotledger")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// All databases must be closed so WAL checkpoints are written
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	srv := server.New(server.Config{
		Log:          log,
		Container:    container,
		Jobs:         jobs,
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		BaseCurrency: cfg.BaseCurrency,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Appended transactions trigger a recompute of their portfolio
	container.RecomputeListener.Start()
	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop accepting requests first so no new recomputes are queued
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Waits for running jobs to finish
	container.Scheduler.Stop()
	container.RecomputeListener.Stop()

	log.Info().Msg("Server stopped")
}
