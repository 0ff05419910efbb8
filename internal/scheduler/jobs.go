package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/recompute"
	"github.com/aristath/lotledger/internal/reliability"
)

// PortfolioRecomputer rebuilds derived portfolio state.
type PortfolioRecomputer interface {
	Recompute(ctx context.Context, portfolioID string) (*recompute.Result, error)
	RecomputeAll(ctx context.Context) ([]recompute.Outcome, error)
}

// RateSyncer pulls missing FX rates.
type RateSyncer interface {
	Sync(ctx context.Context, today time.Time) (currency.SyncResult, error)
}

// Backuper creates and uploads a backup.
type Backuper interface {
	CreateAndUpload(ctx context.Context) (*reliability.BackupResult, error)
}

// RecomputeAllJob rebuilds every portfolio in parallel.
type RecomputeAllJob struct {
	service PortfolioRecomputer
	timeout time.Duration
	log     zerolog.Logger
}

// NewRecomputeAllJob creates a new RecomputeAllJob
func NewRecomputeAllJob(service PortfolioRecomputer, timeout time.Duration, log zerolog.Logger) *RecomputeAllJob {
	return &RecomputeAllJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "recompute_all").Logger(),
	}
}

// Name returns the job name
func (j *RecomputeAllJob) Name() string {
	return "recompute_all"
}

// Run recomputes every portfolio. Individual failures are already logged
// and reported as events; the job fails only when some portfolio failed.
func (j *RecomputeAllJob) Run() error {
	ctx, cancel := withTimeout(j.timeout)
	defer cancel()

	outcomes, err := j.service.RecomputeAll(ctx)
	if err != nil {
		return fmt.Errorf("recompute all: %w", err)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}

	j.log.Info().
		Int("portfolios", len(outcomes)).
		Int("failed", failed).
		Msg("Recompute all completed")

	if failed > 0 {
		return fmt.Errorf("%d of %d portfolios failed to recompute", failed, len(outcomes))
	}
	return nil
}

// FXSyncJob pulls the configured FX pairs from the rate provider.
type FXSyncJob struct {
	syncer       RateSyncer
	eventManager *events.Manager
	timeout      time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewFXSyncJob creates a new FXSyncJob
func NewFXSyncJob(syncer RateSyncer, eventManager *events.Manager, timeout time.Duration, log zerolog.Logger) *FXSyncJob {
	return &FXSyncJob{
		syncer:       syncer,
		eventManager: eventManager,
		timeout:      timeout,
		now:          time.Now,
		log:          log.With().Str("job", "fx_sync").Logger(),
	}
}

// Name returns the job name
func (j *FXSyncJob) Name() string {
	return "fx_sync"
}

// Run syncs rates up to today (UTC). Rates stored before a failure are kept
// and announced.
func (j *FXSyncJob) Run() error {
	ctx, cancel := withTimeout(j.timeout)
	defer cancel()

	result, err := j.syncer.Sync(ctx, j.now().UTC())
	if result.Stored > 0 && j.eventManager != nil {
		j.eventManager.EmitTyped("scheduler", &events.RatesUpdatedData{
			Count:  result.Stored,
			Pairs:  result.Pairs,
			Source: "frankfurter",
		})
	}
	return err
}

// BackupJob uploads a snapshot of every database.
type BackupJob struct {
	backuper Backuper
	timeout  time.Duration
	log      zerolog.Logger
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(backuper Backuper, timeout time.Duration, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backuper: backuper,
		timeout:  timeout,
		log:      log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := withTimeout(j.timeout)
	defer cancel()

	result, err := j.backuper.CreateAndUpload(ctx)
	if err != nil {
		return err
	}
	j.log.Debug().Str("key", result.Key).Msg("Backup stored")
	return nil
}

func withTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
