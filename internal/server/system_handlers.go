package server

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/scheduler"
	"github.com/aristath/lotledger/internal/utils"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// JobLookup finds a background job by name.
type JobLookup interface {
	ByName(name string) (scheduler.Job, bool)
}

// SystemHandlers serves health, status and operational endpoints.
type SystemHandlers struct {
	databases   map[string]*database.DB
	backuper    scheduler.Backuper // nil when backups are disabled
	jobs        JobLookup          // nil disables manual job runs
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates system handlers. backuper and jobs may be nil.
func NewSystemHandlers(
	databases map[string]*database.DB,
	backuper scheduler.Backuper,
	jobs JobLookup,
	log zerolog.Logger,
) *SystemHandlers {
	return &SystemHandlers{
		databases:   databases,
		backuper:    backuper,
		jobs:        jobs,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// DatabaseStatus describes one database file.
type DatabaseStatus struct {
	Name          string `json:"name"`
	Healthy       bool   `json:"healthy"`
	SizeBytes     int64  `json:"size_bytes"`
	Size          string `json:"size"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	FreelistCount int64  `json:"freelist_count"`
	Error         string `json:"error,omitempty"`
}

// SystemStatusResponse is the body of GET /api/system/status.
type SystemStatusResponse struct {
	Status         string           `json:"status"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	StartedAt      string           `json:"started_at"`
	CPUPercent     float64          `json:"cpu_percent"`
	RAMPercent     float64          `json:"ram_percent"`
	Goroutines     int              `json:"goroutines"`
	Databases      []DatabaseStatus `json:"databases"`
	TotalSize      string           `json:"total_size"`
	BackupsEnabled bool             `json:"backups_enabled"`
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"service": "lotledger",
	}, h.log)
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	resp := SystemStatusResponse{
		Status:         "healthy",
		UptimeSeconds:  int64(time.Since(h.startupTime).Seconds()),
		StartedAt:      humanize.Time(h.startupTime),
		CPUPercent:     cpuPercent,
		RAMPercent:     ramPercent,
		Goroutines:     runtime.NumGoroutine(),
		BackupsEnabled: h.backuper != nil,
	}

	var total int64
	for _, name := range sortedDatabaseNames(h.databases) {
		status := h.databaseStatus(r, name)
		if !status.Healthy {
			resp.Status = "degraded"
		}
		total += status.SizeBytes + status.WALSizeBytes
		resp.Databases = append(resp.Databases, status)
	}
	resp.TotalSize = humanize.IBytes(uint64(total))

	utils.WriteData(w, http.StatusOK, resp, h.log)
}

func (h *SystemHandlers) databaseStatus(r *http.Request, name string) DatabaseStatus {
	db := h.databases[name]
	status := DatabaseStatus{Name: name, Healthy: true}

	if err := db.QuickCheck(r.Context()); err != nil {
		status.Healthy = false
		status.Error = err.Error()
		h.log.Warn().Err(err).Str("database", name).Msg("Database quick check failed")
	}

	stats, err := db.GetStats()
	if err != nil {
		status.Healthy = false
		status.Error = err.Error()
		return status
	}
	status.SizeBytes = stats.SizeBytes
	status.Size = humanize.IBytes(uint64(stats.SizeBytes))
	status.WALSizeBytes = stats.WALSizeBytes
	status.PageCount = stats.PageCount
	status.FreelistCount = stats.FreelistCount
	return status
}

// HandleBackup handles POST /api/system/backup
func (h *SystemHandlers) HandleBackup(w http.ResponseWriter, r *http.Request) {
	if h.backuper == nil {
		utils.WriteError(w, fmt.Errorf("backups are not configured: %w", utils.ErrUnavailable), h.log)
		return
	}

	result, err := h.backuper.CreateAndUpload(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"key":         result.Key,
		"size_bytes":  result.SizeBytes,
		"size":        humanize.IBytes(uint64(result.SizeBytes)),
		"databases":   result.Databases,
		"pruned":      result.Pruned,
		"duration_ms": result.Duration.Milliseconds(),
	}, h.log)
}

// HandleRunJob handles POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var job scheduler.Job
	ok := false
	if h.jobs != nil {
		job, ok = h.jobs.ByName(name)
	}
	if !ok {
		utils.WriteError(w, fmt.Errorf("job %q: %w", name, utils.ErrNotFound), h.log)
		return
	}

	started := time.Now()
	if err := job.Run(); err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"duration_ms": time.Since(started).Milliseconds(),
	}, h.log)
}

// getSystemStats calculates CPU and RAM usage percentages over a short
// sampling window.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func sortedDatabaseNames(dbs map[string]*database.DB) []string {
	names := make([]string, 0, len(dbs))
	for name := range dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
