package scheduler

import (
	"time"

	"github.com/smallbiznis/finledger/internal/config"
)

const (
	JobDailyCSVImport      = "daily_csv_import"
	JobImportRunsRetention = "import_runs_retention"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled          bool
	RunInterval      time.Duration
	BatchSize        int
	RetentionDays    int
	EnabledJobs      []string
	ImportTimeout    time.Duration
	RetentionTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		RunInterval:      15 * time.Minute,
		BatchSize:        500,
		RetentionDays:    90,
		ImportTimeout:    10 * time.Minute,
		RetentionTimeout: 2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:       cfg.Scheduler.Enabled,
		RunInterval:   cfg.Scheduler.RunInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
		RetentionDays: cfg.Import.RunRetentionDays,
		EnabledJobs:   cfg.Scheduler.EnabledJobs,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ImportTimeout <= 0 {
		c.ImportTimeout = defaults.ImportTimeout
	}
	if c.RetentionTimeout <= 0 {
		c.RetentionTimeout = defaults.RetentionTimeout
	}
	return c
}
