package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"gorm.io/gorm"
)

func TestClassifyRecomputeReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: RecomputeReasonDeadlineExceeded},
		{name: "configuration", err: fmt.Errorf("load: %w", scenariodomain.ErrConfiguration), want: RecomputeReasonConfiguration},
		{name: "all_members_failed", err: computeddomain.ErrAllMembersFailed, want: RecomputeReasonAllMembersFailed},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: RecomputeReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: RecomputeReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: RecomputeReasonUniqueViolation},
		{name: "storage", err: fmt.Errorf("replace: %w", computeddomain.ErrStorageUnavailable), want: RecomputeReasonStorageUnavailable},
		{name: "unknown", err: errors.New("boom"), want: RecomputeReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRecomputeReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(scenariodomain.ErrConfiguration) {
		t.Fatalf("configuration errors must not be retried")
	}
	if !IsRetryable(fmt.Errorf("write: %w", computeddomain.ErrStorageUnavailable)) {
		t.Fatalf("storage errors should be retried")
	}
	if !IsRetryable(&pgconn.PgError{Code: "40001"}) {
		t.Fatalf("serialization failures should be retried")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestRecomputeCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newRecomputeMetrics(registry, Config{ServiceName: "bigdeal", Environment: "test"})

	m.IncMemberFailure("timeout")
	m.IncMemberFailure("timeout")
	m.ObserveMember(20 * time.Millisecond)
	m.AddRecordsWritten(5)
	m.AddRecordsWritten(0)
	m.IncCacheLookup("journals", CacheResultHit)

	if got := testutil.ToFloat64(m.memberFailures.WithLabelValues("timeout")); got != 2 {
		t.Fatalf("expected 2 member failures, got %v", got)
	}
	if got := testutil.ToFloat64(m.membersProcessed); got != 1 {
		t.Fatalf("expected 1 member processed, got %v", got)
	}
	if got := testutil.ToFloat64(m.recordsWritten); got != 5 {
		t.Fatalf("expected 5 records written, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("journals", CacheResultHit)); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
}

func TestJobDurationCarriesServiceLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newRecomputeMetrics(registry, Config{ServiceName: "bigdeal-worker", Environment: "test"})
	m.ObserveJobDuration(3 * time.Second)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "bigdeal_recompute_job_duration_seconds" {
			family = f
		}
	}
	if family == nil {
		t.Fatalf("job duration histogram not registered")
	}
	metric := family.GetMetric()[0]
	labels := map[string]string{}
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	if labels["service"] != "bigdeal-worker" || labels["env"] != "test" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if got := metric.GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 sample, got %d", got)
	}
	if got := metric.GetHistogram().GetSampleSum(); got != 3 {
		t.Fatalf("expected sum 3, got %v", got)
	}
}
