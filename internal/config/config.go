// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/returns"
	"github.com/aristath/lotledger/internal/money"
	"github.com/aristath/lotledger/internal/scheduler"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for all databases (always absolute)
	LogLevel     string
	Port         int
	DevMode      bool
	BaseCurrency string // Used when a new portfolio does not name one

	Engine    EngineConfig
	Schedules ScheduleConfig
	FX        FXConfig
	Backup    BackupConfig
}

// EngineConfig tunes the accounting engine.
type EngineConfig struct {
	LongTermDays int
	Solver       returns.SolverOptions
	RiskFreeRate float64
	Workers      int           // Parallel recomputes in recompute_all
	CacheTTL     time.Duration // Performance report cache lifetime
	JobTimeout   time.Duration
}

// ScheduleConfig holds cron specs (with seconds) for the background jobs.
// An empty spec disables the job.
type ScheduleConfig struct {
	RecomputeAll     string
	FXSync           string
	Backup           string
	CacheCleanup     string
	DailyMaintenance string
	Vacuum           string
}

// FXConfig configures exchange rate synchronization.
type FXConfig struct {
	Pairs        []string // BASE/QUOTE
	BaseURL      string
	LookbackDays int
}

// BackupConfig configures S3 backups. Backups are disabled without a bucket.
type BackupConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether a backup destination is configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		DataDir:      "./data",
		LogLevel:     "info",
		Port:         8001,
		BaseCurrency: "USD",
		Engine: EngineConfig{
			LongTermDays: 365,
			Solver:       returns.DefaultSolverOptions(),
			Workers:      4,
			CacheTTL:     time.Hour,
			JobTimeout:   10 * time.Minute,
		},
		Schedules: ScheduleConfig{
			RecomputeAll:     "0 30 2 * * *",
			FXSync:           "0 0 18 * * 1-5",
			Backup:           "0 0 3 * * *",
			CacheCleanup:     "0 0 4 * * *",
			DailyMaintenance: "0 15 4 * * *",
			Vacuum:           "0 0 5 * * 0",
		},
		FX: FXConfig{
			LookbackDays: 30,
		},
		Backup: BackupConfig{
			Prefix:        "backups",
			Region:        "auto",
			RetentionDays: 30,
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file named
// by LOTLEDGER_CONFIG and then environment variables, in that order of
// increasing precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("LOTLEDGER_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays values present in a TOML file.
func (c *Config) loadFile(path string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	setString(k, "server.data_dir", &c.DataDir)
	setString(k, "server.log_level", &c.LogLevel)
	setInt(k, "server.port", &c.Port)
	setBool(k, "server.dev_mode", &c.DevMode)
	setString(k, "engine.base_currency", &c.BaseCurrency)

	setInt(k, "engine.long_term_days", &c.Engine.LongTermDays)
	setFloat(k, "engine.risk_free_rate", &c.Engine.RiskFreeRate)
	setInt(k, "engine.workers", &c.Engine.Workers)
	setDuration(k, "engine.cache_ttl", &c.Engine.CacheTTL)
	setDuration(k, "engine.job_timeout", &c.Engine.JobTimeout)
	setFloat(k, "engine.solver.lower", &c.Engine.Solver.Lower)
	setFloat(k, "engine.solver.upper", &c.Engine.Solver.Upper)
	setInt(k, "engine.solver.max_iterations", &c.Engine.Solver.MaxIterations)
	setFloat(k, "engine.solver.tolerance", &c.Engine.Solver.Tolerance)

	setString(k, "schedules.recompute_all", &c.Schedules.RecomputeAll)
	setString(k, "schedules.fx_sync", &c.Schedules.FXSync)
	setString(k, "schedules.backup", &c.Schedules.Backup)
	setString(k, "schedules.cache_cleanup", &c.Schedules.CacheCleanup)
	setString(k, "schedules.daily_maintenance", &c.Schedules.DailyMaintenance)
	setString(k, "schedules.vacuum", &c.Schedules.Vacuum)

	if k.Exists("fx.pairs") {
		c.FX.Pairs = k.Strings("fx.pairs")
	}
	setString(k, "fx.base_url", &c.FX.BaseURL)
	setInt(k, "fx.lookback_days", &c.FX.LookbackDays)

	setString(k, "backup.bucket", &c.Backup.Bucket)
	setString(k, "backup.prefix", &c.Backup.Prefix)
	setString(k, "backup.region", &c.Backup.Region)
	setString(k, "backup.endpoint", &c.Backup.Endpoint)
	setString(k, "backup.access_key_id", &c.Backup.AccessKeyID)
	setString(k, "backup.secret_access_key", &c.Backup.SecretAccessKey)
	setInt(k, "backup.retention_days", &c.Backup.RetentionDays)
	return nil
}

func (c *Config) loadEnv() {
	c.DataDir = getEnv("LOTLEDGER_DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Port = getEnvAsInt("LOTLEDGER_PORT", c.Port)
	c.DevMode = getEnvAsBool("DEV_MODE", c.DevMode)
	c.BaseCurrency = getEnv("LOTLEDGER_BASE_CURRENCY", c.BaseCurrency)

	c.Engine.LongTermDays = getEnvAsInt("LOTLEDGER_LONG_TERM_DAYS", c.Engine.LongTermDays)
	c.Engine.Workers = getEnvAsInt("LOTLEDGER_WORKERS", c.Engine.Workers)
	c.Engine.RiskFreeRate = getEnvAsFloat("LOTLEDGER_RISK_FREE_RATE", c.Engine.RiskFreeRate)

	if v := os.Getenv("LOTLEDGER_FX_PAIRS"); v != "" {
		c.FX.Pairs = strings.Split(v, ",")
	}
	c.FX.BaseURL = getEnv("LOTLEDGER_FX_URL", c.FX.BaseURL)

	c.Backup.Bucket = getEnv("S3_BUCKET", c.Backup.Bucket)
	c.Backup.Endpoint = getEnv("S3_ENDPOINT", c.Backup.Endpoint)
	c.Backup.Region = getEnv("S3_REGION", c.Backup.Region)
	c.Backup.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Backup.AccessKeyID)
	c.Backup.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.Backup.SecretAccessKey)
	c.Backup.RetentionDays = getEnvAsInt("S3_RETENTION_DAYS", c.Backup.RetentionDays)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	c.BaseCurrency = money.NormalizeCurrency(c.BaseCurrency)
	if err := money.ValidateCurrency(c.BaseCurrency); err != nil {
		return fmt.Errorf("invalid base currency: %w", err)
	}
	if c.Engine.LongTermDays <= 0 {
		return fmt.Errorf("long-term threshold must be positive, got %d days", c.Engine.LongTermDays)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.Solver.Lower <= -1 || c.Engine.Solver.Upper <= c.Engine.Solver.Lower {
		return fmt.Errorf("invalid solver bracket [%g, %g]", c.Engine.Solver.Lower, c.Engine.Solver.Upper)
	}

	for name, spec := range c.Schedules.byJob() {
		if spec == "" {
			continue
		}
		if err := scheduler.ValidateSchedule(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if _, err := c.FX.ParsedPairs(); err != nil {
		return err
	}
	if len(c.FX.Pairs) > 0 && c.FX.LookbackDays <= 0 {
		return fmt.Errorf("fx lookback must be positive, got %d days", c.FX.LookbackDays)
	}
	return nil
}

// ForJob returns the schedule configured for a job name.
func (s ScheduleConfig) ForJob(name string) string {
	return s.byJob()[name]
}

func (s ScheduleConfig) byJob() map[string]string {
	return map[string]string{
		"recompute_all":     s.RecomputeAll,
		"fx_sync":           s.FXSync,
		"backup":            s.Backup,
		"cache_cleanup":     s.CacheCleanup,
		"daily_maintenance": s.DailyMaintenance,
		"vacuum":            s.Vacuum,
	}
}

// ParsedPairs validates and normalizes the configured FX pairs.
func (f FXConfig) ParsedPairs() ([]domain.CurrencyPair, error) {
	pairs := make([]domain.CurrencyPair, 0, len(f.Pairs))
	for _, raw := range f.Pairs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		pair, err := currency.ParsePair(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid fx pair %q: %w", raw, err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// Lookback returns the FX sync lookback window.
func (f FXConfig) Lookback() time.Duration {
	return time.Duration(f.LookbackDays) * 24 * time.Hour
}

// koanf helpers only overwrite a field when the key is present

func setString(k *koanf.Koanf, key string, dst *string) {
	if k.Exists(key) {
		*dst = k.String(key)
	}
}

func setInt(k *koanf.Koanf, key string, dst *int) {
	if k.Exists(key) {
		*dst = k.Int(key)
	}
}

func setFloat(k *koanf.Koanf, key string, dst *float64) {
	if k.Exists(key) {
		*dst = k.Float64(key)
	}
}

func setBool(k *koanf.Koanf, key string, dst *bool) {
	if k.Exists(key) {
		*dst = k.Bool(key)
	}
}

func setDuration(k *koanf.Koanf, key string, dst *time.Duration) {
	if k.Exists(key) {
		*dst = k.Duration(key)
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
