package scheduler

import (
	"time"

	"github.com/smallbiznis/bigdeal/internal/config"
)

// Config controls the worker loop.
type Config struct {
	RunInterval       time.Duration
	MaxJobsPerRun     int
	RecoveryThreshold time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       5 * time.Second,
		MaxJobsPerRun:     10,
		RecoveryThreshold: 3 * time.Hour,
	}
}

// ProvideConfig derives the loop settings from the engine config. A running
// job is considered lost once it outlives its own timeout.
func ProvideConfig(holder *config.EngineConfigHolder) Config {
	engine := holder.Get()
	cfg := Config{
		RunInterval: engine.PollInterval,
	}
	if engine.JobTimeout > 0 {
		cfg.RecoveryThreshold = engine.JobTimeout + engine.JobTimeout/2
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.MaxJobsPerRun <= 0 {
		c.MaxJobsPerRun = defaults.MaxJobsPerRun
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}
