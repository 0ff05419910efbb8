package clientdata

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// CleanupJob prunes expired rows from the cache tables. A failing table does
// not stop the others from being pruned.
type CleanupJob struct {
	repo   *Repository
	tables []string
	log    zerolog.Logger

	mu   sync.Mutex
	last map[string]int64
}

// NewCleanupJob creates a cache cleanup job over the given tables, or over
// AllTables when none are given.
func NewCleanupJob(repo *Repository, log zerolog.Logger, tables ...string) *CleanupJob {
	if len(tables) == 0 {
		tables = AllTables
	}
	return &CleanupJob{
		repo:   repo,
		tables: tables,
		log:    log.With().Str("job", "cache_cleanup").Logger(),
	}
}

func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}

// Run deletes the expired rows of every table.
func (j *CleanupJob) Run() error {
	deleted := make(map[string]int64, len(j.tables))
	counts := zerolog.Dict()
	var total int64
	var errs []error

	for _, table := range j.tables {
		n, err := j.repo.DeleteExpired(table)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", table, err))
			continue
		}
		deleted[table] = n
		counts.Int64(table, n)
		total += n
	}

	j.mu.Lock()
	j.last = deleted
	j.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		j.log.Error().Err(err).Dict("deleted", counts).Msg("Cache cleanup finished with errors")
		return err
	}
	if total > 0 {
		j.log.Info().Int64("total", total).Dict("deleted", counts).Msg("Pruned expired cache entries")
	}
	return nil
}

// LastRun returns the rows deleted per table by the most recent run.
func (j *CleanupJob) LastRun() map[string]int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]int64, len(j.last))
	for table, n := range j.last {
		out[table] = n
	}
	return out
}
