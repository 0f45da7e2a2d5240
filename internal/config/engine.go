package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig holds recompute tunables that can change without a restart.
type EngineConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	MemberTimeout    time.Duration `mapstructure:"memberTimeout"`
	JobTimeout       time.Duration `mapstructure:"jobTimeout"`
	PollInterval     time.Duration `mapstructure:"pollInterval"`
	MaxAttempts      int           `mapstructure:"maxAttempts"`
	ReplaceBatchSize int           `mapstructure:"replaceBatchSize"`
	ApcStartYear     int           `mapstructure:"apcStartYear"`
	ApcYears         int           `mapstructure:"apcYears"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Concurrency:      4,
		MemberTimeout:    5 * time.Minute,
		JobTimeout:       2 * time.Hour,
		PollInterval:     5 * time.Second,
		MaxAttempts:      3,
		ReplaceBatchSize: 1000,
		ApcStartYear:     2014,
		ApcYears:         5,
	}
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder returns a holder that never reloads.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEngineConfigHolder(log *zap.Logger) (*EngineConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("engine-config")

	v := viper.New()
	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/bigdeal")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BIGDEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEngineConfig()
	v.SetDefault("engine.concurrency", defaults.Concurrency)
	v.SetDefault("engine.memberTimeout", defaults.MemberTimeout)
	v.SetDefault("engine.jobTimeout", defaults.JobTimeout)
	v.SetDefault("engine.pollInterval", defaults.PollInterval)
	v.SetDefault("engine.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("engine.replaceBatchSize", defaults.ReplaceBatchSize)
	v.SetDefault("engine.apcStartYear", defaults.ApcStartYear)
	v.SetDefault("engine.apcYears", defaults.ApcYears)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticEngineConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Warn("engine config reload failed", zap.Error(err))
			return
		}
		if err := ValidateEngineConfig(updated); err != nil {
			log.Warn("invalid engine config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name), zap.Int("concurrency", updated.Concurrency))
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	if h == nil {
		return DefaultEngineConfig()
	}
	return h.current.Load().(EngineConfig)
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if cfg.Concurrency < 1 {
		return errors.New("engine.concurrency must be at least 1")
	}
	if cfg.MemberTimeout <= 0 {
		return errors.New("engine.memberTimeout must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("engine.maxAttempts must be at least 1")
	}
	if cfg.ReplaceBatchSize < 1 {
		return errors.New("engine.replaceBatchSize must be at least 1")
	}
	if cfg.ApcYears < 1 {
		return errors.New("engine.apcYears must be at least 1")
	}
	return nil
}
