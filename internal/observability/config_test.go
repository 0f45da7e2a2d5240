package observability

import (
	"testing"

	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")

	cfg := LoadConfig(config.Config{AppName: "", Environment: "test", AppVersion: "1.2.3"})

	assert.Equal(t, "bigdeal", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.False(t, cfg.OtelEnabled)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.EqualValues(t, 2000, cfg.SlowViewMillis)
	assert.True(t, cfg.Debug(), "test environment logs at debug")
}

func TestLoadConfigTracesProtocolOverrides(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("DEPLOYMENT_ENV", "production")

	cfg := LoadConfig(config.Config{AppName: "bigdeal-api"})

	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "bigdeal-api", cfg.ServiceName)
	assert.False(t, cfg.Debug())
}
