package context

import (
	"context"
	"strings"
)

type key int

const (
	requestIDKey key = iota
	scenarioIDKey
	jobIDKey
)

// WithRequestID stores the inbound request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithScenarioID stores the scenario being read or recomputed.
func WithScenarioID(ctx context.Context, scenarioID string) context.Context {
	return withValue(ctx, scenarioIDKey, scenarioID)
}

func ScenarioIDFromContext(ctx context.Context) string {
	return stringValue(ctx, scenarioIDKey)
}

// WithJobID stores the recompute job identifier.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return withValue(ctx, jobIDKey, jobID)
}

func JobIDFromContext(ctx context.Context) string {
	return stringValue(ctx, jobIDKey)
}

func withValue(ctx context.Context, k key, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, k, value)
}

func stringValue(ctx context.Context, k key) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(k).(string)
	return value
}
