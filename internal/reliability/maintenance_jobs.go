package reliability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/lotledger/internal/database"
)

// Free-space thresholds for the data directory
const (
	criticalFreeBytes = 500 * 1000 * 1000
	lowFreeBytes      = 5 * 1000 * 1000 * 1000
)

// DailyMaintenanceJob checks database integrity, truncates WAL files and
// verifies free disk space.
type DailyMaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	diskUsage func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewDailyMaintenanceJob creates a new daily maintenance job
func NewDailyMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		diskUsage: disk.Usage,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *DailyMaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the daily maintenance job
func (j *DailyMaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()
	ctx := context.Background()

	for _, name := range sortedNames(j.databases) {
		db := j.databases[name]

		// Corruption cannot be repaired automatically
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("CRITICAL: Database integrity check failed")
			return fmt.Errorf("database %s failed integrity check: %w", name, err)
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}

		if stats, err := db.GetStats(); err == nil {
			j.log.Info().
				Str("database", name).
				Str("size", humanize.Bytes(uint64(stats.SizeBytes))).
				Str("wal_size", humanize.Bytes(uint64(stats.WALSizeBytes))).
				Msg("Database metrics")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed successfully")
	return nil
}

// checkDiskSpace fails below the critical threshold and warns below the low one
func (j *DailyMaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	free := humanize.Bytes(usage.Free)
	switch {
	case usage.Free < criticalFreeBytes:
		j.log.Error().Str("free", free).Msg("CRITICAL: Insufficient disk space")
		return fmt.Errorf("only %s free in %s", free, j.dataDir)
	case usage.Free < lowFreeBytes:
		j.log.Warn().Str("free", free).Msg("Disk space running low")
	default:
		j.log.Debug().Str("free", free).Msg("Disk space check")
	}
	return nil
}

// VacuumJob rebuilds every database except the append-only ledger.
type VacuumJob struct {
	databases map[string]*database.DB
	log       zerolog.Logger
}

// NewVacuumJob creates a new vacuum job
func NewVacuumJob(databases map[string]*database.DB, log zerolog.Logger) *VacuumJob {
	return &VacuumJob{
		databases: databases,
		log:       log.With().Str("job", "vacuum").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *VacuumJob) Name() string {
	return "vacuum"
}

// Run executes VACUUM on each database. Failures are logged and the
// remaining databases are still processed.
func (j *VacuumJob) Run() error {
	for _, name := range sortedNames(j.databases) {
		if name == database.NameLedger {
			j.log.Debug().Str("database", name).Msg("Skipping VACUUM for append-only ledger")
			continue
		}
		if err := j.vacuum(name, j.databases[name]); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("VACUUM failed")
		}
	}
	return nil
}

func (j *VacuumJob) vacuum(name string, db *database.DB) error {
	before, err := db.GetStats()
	if err != nil {
		return err
	}

	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	after, err := db.GetStats()
	if err != nil {
		return err
	}

	reclaimed := (before.PageCount - after.PageCount) * after.PageSize
	if reclaimed < 0 {
		reclaimed = 0
	}
	j.log.Info().
		Str("database", name).
		Str("reclaimed", humanize.Bytes(uint64(reclaimed))).
		Msg("VACUUM completed")
	return nil
}

func sortedNames(databases map[string]*database.DB) []string {
	names := make([]string, 0, len(databases))
	for name := range databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
