package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the engine's OpenTelemetry instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	recomputeRequests metric.Int64Counter
	unknownJournals   metric.Int64Counter
	registryReports   metric.Int64Counter
	viewDuration      metric.Float64Histogram
}

// NewProvider installs the global meter provider. Disabled metrics get the
// noop provider so instruments stay valid.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("metrics exporter configured",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "bigdeal"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.recomputeRequests, "bigdeal_recompute_requests_total", "Recompute requests by outcome."},
		{&m.unknownJournals, "bigdeal_unknown_journals_total", "Journal lookups answered with a placeholder."},
		{&m.registryReports, "bigdeal_registry_reports_total", "Unknown journal reports sent to the registry."},
	}
	for _, c := range counters {
		if *c.target, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("counter %s: %w", c.name, err)
		}
	}

	m.viewDuration, err = meter.Float64Histogram("bigdeal_view_duration_seconds",
		metric.WithDescription("Dashboard view latency."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("histogram bigdeal_view_duration_seconds: %w", err)
	}
	return &m, nil
}

// RecordRecomputeRequest counts recompute requests by outcome (accepted,
// already_queued, rate_limited, configuration, rejected).
func (m *Metrics) RecordRecomputeRequest(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.recomputeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUnknownJournal(ctx context.Context) {
	if m == nil {
		return
	}
	m.unknownJournals.Add(ctx, 1)
}

func (m *Metrics) RecordRegistryReport(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.registryReports.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ObserveView records one dashboard view keyed by its route template.
func (m *Metrics) ObserveView(ctx context.Context, endpoint string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status_code", statusCode),
	)
	m.viewDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// newExporter accepts host:port or a URL endpoint; an http:// URL turns off
// TLS for either protocol.
func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	host, insecure := splitEndpoint(endpoint)
	ctx := context.Background()

	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if host != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(host))
		}
		if insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if host != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(host))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

func splitEndpoint(endpoint string) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), true
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), false
	default:
		return endpoint, false
	}
}

// FilterAttributes keeps only the low-cardinality label keys. Scenario,
// member and journal ids never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		switch attr.Key {
		case "outcome", "reason", "entity_type", "status_code", "endpoint":
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
