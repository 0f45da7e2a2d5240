package context

import (
	"context"
	"testing"
)

func TestCorrelationValuesRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), " req-1 ")
	ctx = WithScenarioID(ctx, "scn-abc")
	ctx = WithJobID(ctx, "42")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := ScenarioIDFromContext(ctx); got != "scn-abc" {
		t.Fatalf("expected scenario id scn-abc, got %q", got)
	}
	if got := JobIDFromContext(ctx); got != "42" {
		t.Fatalf("expected job id 42, got %q", got)
	}
}

func TestEmptyValueIsNotStored(t *testing.T) {
	ctx := WithScenarioID(context.Background(), "  ")
	if got := ScenarioIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty scenario id, got %q", got)
	}
	if got := JobIDFromContext(nil); got != "" {
		t.Fatalf("expected empty job id for nil context, got %q", got)
	}
}
