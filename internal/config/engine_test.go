package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateEngineConfig(t *testing.T) {
	require.NoError(t, ValidateEngineConfig(DefaultEngineConfig()))

	cfg := DefaultEngineConfig()
	cfg.Concurrency = 0
	assert.Error(t, ValidateEngineConfig(cfg))

	cfg = DefaultEngineConfig()
	cfg.MemberTimeout = 0
	assert.Error(t, ValidateEngineConfig(cfg))

	cfg = DefaultEngineConfig()
	cfg.ReplaceBatchSize = -1
	assert.Error(t, ValidateEngineConfig(cfg))
}

func TestEngineConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("engine:\n  concurrency: 8\n  memberTimeout: 30s\n  maxAttempts: 2\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "engine.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewEngineConfigHolder(zap.NewNop())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.MemberTimeout)
	assert.Equal(t, 2, cfg.MaxAttempts)
	assert.Equal(t, 1000, cfg.ReplaceBatchSize)
	assert.Equal(t, 2014, cfg.ApcStartYear)
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *EngineConfigHolder
	assert.Equal(t, DefaultEngineConfig(), holder.Get())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("LIVE_SCENARIO_URL", "http://live:5004/")
	t.Setenv("LIVE_SCENARIO_TIMEOUT_SECONDS", "45")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, "http://live:5004", cfg.LiveScenarioURL)
	assert.Equal(t, 45*time.Second, cfg.LiveScenarioTimeout)
	assert.False(t, cfg.IsProduction())
}
