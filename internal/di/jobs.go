// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/config"
	"github.com/aristath/lotledger/internal/reliability"
	"github.com/aristath/lotledger/internal/scheduler"
)

// RegisterJobs creates the background jobs and registers each one that has a
// schedule. Returns JobInstances for manual triggering via API.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	timeout := cfg.Engine.JobTimeout
	instances := &JobInstances{
		RecomputeAll:     scheduler.NewRecomputeAllJob(container.PortfolioService, timeout, log),
		CacheCleanup:     clientdata.NewCleanupJob(container.ClientDataRepo, log),
		DailyMaintenance: reliability.NewDailyMaintenanceJob(container.Databases(), cfg.DataDir, log),
		Vacuum:           reliability.NewVacuumJob(container.Databases(), log),
	}
	if container.RateSync != nil {
		instances.FXSync = scheduler.NewFXSyncJob(container.RateSync, container.EventManager, timeout, log)
	}
	if container.BackupService != nil {
		instances.Backup = scheduler.NewBackupJob(container.BackupService, timeout, log)
	}

	for _, job := range instances.all() {
		spec := cfg.Schedules.ForJob(job.Name())
		if spec == "" {
			log.Info().Str("job", job.Name()).Msg("Job has no schedule, manual trigger only")
			continue
		}
		if err := container.Scheduler.AddJob(spec, job); err != nil {
			return nil, fmt.Errorf("failed to register %s job: %w", job.Name(), err)
		}
	}

	return instances, nil
}

// all returns the configured jobs, skipping disabled features.
func (j *JobInstances) all() []scheduler.Job {
	jobs := []scheduler.Job{j.RecomputeAll, j.CacheCleanup, j.DailyMaintenance, j.Vacuum}
	if j.FXSync != nil {
		jobs = append(jobs, j.FXSync)
	}
	if j.Backup != nil {
		jobs = append(jobs, j.Backup)
	}
	return jobs
}

// ByName returns the job registered under name.
func (j *JobInstances) ByName(name string) (scheduler.Job, bool) {
	for _, job := range j.all() {
		if job.Name() == name {
			return job, true
		}
	}
	return nil, false
}
