package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"gorm.io/gorm"
)

const (
	RecomputeReasonDeadlineExceeded     = "deadline_exceeded"
	RecomputeReasonConfiguration        = "configuration"
	RecomputeReasonAllMembersFailed     = "all_members_failed"
	RecomputeReasonStorageUnavailable   = "storage_unavailable"
	RecomputeReasonDBLockTimeout        = "db_lock_timeout"
	RecomputeReasonSerializationFailure = "serialization_failure"
	RecomputeReasonUniqueViolation      = "unique_violation"
	RecomputeReasonUnknown              = "unknown"
)

const (
	JobOutcomeCompleted = "completed"
	JobOutcomePartial   = "partial"
	JobOutcomeFailed    = "failed"
	JobOutcomeRequeued  = "requeued"
)

const (
	CacheResultHit  = "hit"
	CacheResultMiss = "miss"
)

// RecomputeMetrics captures recompute worker and cache health signals.
type RecomputeMetrics struct {
	jobRuns          *prometheus.CounterVec
	jobDuration      prometheus.Histogram
	jobErrors        *prometheus.CounterVec
	memberDuration   prometheus.Histogram
	memberFailures   *prometheus.CounterVec
	membersProcessed prometheus.Counter
	recordsWritten   prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	cacheEvictions   *prometheus.CounterVec
	lockWait         prometheus.Observer
}

var (
	recomputeMetricsOnce sync.Once
	recomputeMetrics     *RecomputeMetrics
)

// Recompute returns the singleton recompute metrics registry.
func Recompute() *RecomputeMetrics {
	return RecomputeWithConfig(Config{})
}

// RecomputeWithConfig returns the singleton recompute metrics registry using config labels.
func RecomputeWithConfig(cfg Config) *RecomputeMetrics {
	recomputeMetricsOnce.Do(func() {
		recomputeMetrics = newRecomputeMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return recomputeMetrics
}

// ResetRecomputeMetricsForTest resets the singleton for tests.
func ResetRecomputeMetricsForTest() {
	recomputeMetricsOnce = sync.Once{}
	recomputeMetrics = nil
}

// NewRecomputeMetricsForTest registers a fresh set of collectors on registerer.
func NewRecomputeMetricsForTest(registerer prometheus.Registerer) *RecomputeMetrics {
	return newRecomputeMetrics(registerer, Config{ServiceName: "bigdeal", Environment: "test"})
}

func newRecomputeMetrics(registerer prometheus.Registerer, cfg Config) *RecomputeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "bigdeal"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bigdeal_recompute_job_runs_total",
		Help:        "Recompute job runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	jobDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "bigdeal_recompute_job_duration_seconds",
		Help:        "Wall time of a consortium recompute from claim to completion.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		ConstLabels: constLabels,
	})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bigdeal_recompute_job_errors_total",
		Help:        "Recompute job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	memberDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "bigdeal_recompute_member_duration_seconds",
		Help:        "Per-member live scenario computation latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		ConstLabels: constLabels,
	})
	memberFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bigdeal_recompute_member_failures_total",
		Help:        "Isolated per-member failures by reason.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	membersProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bigdeal_recompute_members_processed_total",
		Help:        "Members whose computation finished, successfully or not.",
		ConstLabels: constLabels,
	})
	recordsWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bigdeal_recompute_records_written_total",
		Help:        "Journal metric records written by replace operations.",
		ConstLabels: constLabels,
	})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bigdeal_cache_lookups_total",
		Help:        "Process cache lookups by entity type and result.",
		ConstLabels: constLabels,
	}, []string{"entity_type", "result"})
	cacheEvictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "bigdeal_cache_invalidations_total",
		Help:        "Explicit cache invalidations by trigger.",
		ConstLabels: constLabels,
	}, []string{"trigger"})
	lockWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "bigdeal_recompute_lock_wait_seconds",
		Help:        "Time spent acquiring the per-scenario run lock.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobErrors,
		memberDuration,
		memberFailures,
		membersProcessed,
		recordsWritten,
		cacheLookups,
		cacheEvictions,
		lockWait,
	)

	return &RecomputeMetrics{
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobErrors:        jobErrors,
		memberDuration:   memberDuration,
		memberFailures:   memberFailures,
		membersProcessed: membersProcessed,
		recordsWritten:   recordsWritten,
		cacheLookups:     cacheLookups,
		cacheEvictions:   cacheEvictions,
		lockWait:         lockWait,
	}
}

func (m *RecomputeMetrics) IncJobRun(outcome string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(outcome).Inc()
}

func (m *RecomputeMetrics) ObserveJobDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(duration.Seconds())
}

// IncJobError increments the job error counter with classification.
func (m *RecomputeMetrics) IncJobError(err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(ClassifyRecomputeReason(err)).Inc()
}

func (m *RecomputeMetrics) ObserveMember(duration time.Duration) {
	if m == nil {
		return
	}
	m.memberDuration.Observe(duration.Seconds())
	m.membersProcessed.Inc()
}

func (m *RecomputeMetrics) IncMemberFailure(reason string) {
	if m == nil {
		return
	}
	m.memberFailures.WithLabelValues(reason).Inc()
}

func (m *RecomputeMetrics) AddRecordsWritten(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsWritten.Add(float64(count))
}

func (m *RecomputeMetrics) IncCacheLookup(entityType, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(entityType, result).Inc()
}

func (m *RecomputeMetrics) IncCacheInvalidation(trigger string) {
	if m == nil {
		return
	}
	m.cacheEvictions.WithLabelValues(trigger).Inc()
}

func (m *RecomputeMetrics) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.lockWait.Observe(duration.Seconds())
}

// ClassifyRecomputeReason maps recompute errors to low-cardinality reasons.
func ClassifyRecomputeReason(err error) string {
	switch {
	case err == nil:
		return RecomputeReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return RecomputeReasonDeadlineExceeded
	case errors.Is(err, scenariodomain.ErrConfiguration):
		return RecomputeReasonConfiguration
	case errors.Is(err, computeddomain.ErrAllMembersFailed):
		return RecomputeReasonAllMembersFailed
	case hasPGCode(err, "55P03"):
		return RecomputeReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return RecomputeReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return RecomputeReasonUniqueViolation
	case errors.Is(err, computeddomain.ErrStorageUnavailable):
		return RecomputeReasonStorageUnavailable
	default:
		return RecomputeReasonUnknown
	}
}

// IsRetryable reports whether a job that failed with err should be requeued.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, scenariodomain.ErrConfiguration) || errors.Is(err, computeddomain.ErrAllMembersFailed) {
		return false
	}
	if errors.Is(err, computeddomain.ErrStorageUnavailable) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
