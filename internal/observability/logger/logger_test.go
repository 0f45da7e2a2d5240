package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/bigdeal/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithScenarioID(ctx, "scn-1")
	ctx = obscontext.WithJobID(ctx, "77")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-9" {
		t.Fatalf("expected request_id req-9, got %v", fields["request_id"])
	}
	if fields["scenario_id"] != "scn-1" {
		t.Fatalf("expected scenario_id scn-1, got %v", fields["scenario_id"])
	}
	if fields["job_id"] != "77" {
		t.Fatalf("expected job_id 77, got %v", fields["job_id"])
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatalf("expected no trace_id without an active span")
	}
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	if _, err := New(nil, Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestDescribeSQL(t *testing.T) {
	op, table := describeSQL(`INSERT INTO "scenario_computed" ("scenario_id") VALUES ($1)`)
	if op != "INSERT" || table != "scenario_computed" {
		t.Fatalf("describeSQL = %q, %q", op, table)
	}
	op, table = describeSQL(`UPDATE "recompute_jobs" SET "status"=$1`)
	if op != "UPDATE" || table != "recompute_jobs" {
		t.Fatalf("describeSQL = %q, %q", op, table)
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM scenario_computed":                  "SELECT",
		"delete from recompute_jobs where id = 1":          "DELETE",
		"":                                                 "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestGinMiddlewareTagsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{SlowThreshold: time.Nanosecond}))
	r.GET("/api/scenarios/:scenario_id/summary", func(c *gin.Context) {
		time.Sleep(time.Millisecond)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/scenarios/scn-1/summary", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-1" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	entries := logs.FilterMessage("slow_http_request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 slow request entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["scenario_id"] != "scn-1" {
		t.Fatalf("expected scenario_id scn-1, got %v", fields["scenario_id"])
	}
	if fields["route"] != "/api/scenarios/:scenario_id/summary" {
		t.Fatalf("unexpected route %v", fields["route"])
	}
}
