package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "accepted"),
		attribute.String("scenario_id", "scn-1"),
		attribute.String("reason", "timeout"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "scenario_id" {
			t.Fatalf("expected scenario_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRecomputeRequest(context.Background(), "accepted")
	m.RecordUnknownJournal(context.Background())
	m.RecordRegistryReport(context.Background(), "sent")
	m.ObserveView(context.Background(), "/api/scenarios/:scenario_id/journals", 200, time.Second)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "bigdeal"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordRecomputeRequest(context.Background(), "already_queued")
	m.ObserveView(context.Background(), "/api/scenarios/:scenario_id/summary", 200, 20*time.Millisecond)
}

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		insecure bool
	}{
		{"collector:4317", "collector:4317", false},
		{"http://collector:4318/", "collector:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
	}
	for _, tc := range cases {
		host, insecure := splitEndpoint(tc.in)
		if host != tc.host || insecure != tc.insecure {
			t.Fatalf("splitEndpoint(%q) = %q, %v", tc.in, host, insecure)
		}
	}
}
