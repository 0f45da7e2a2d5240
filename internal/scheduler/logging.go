package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/bigdeal/internal/observability/context"
	obslogger "github.com/smallbiznis/bigdeal/internal/observability/logger"
	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	"go.uber.org/zap"
)

// tick is one execution of a scheduler job. Nested runJob calls share the
// outermost tick.
type tick struct {
	job       string
	id        string
	limit     int
	startedAt time.Time
	processed int
	failed    int
}

type tickKey struct{}

func (t *tick) AddProcessed(n int) {
	if t != nil && n > 0 {
		t.processed += n
	}
}

func (t *tick) IncError() {
	if t != nil {
		t.failed++
	}
}

func tickFromContext(ctx context.Context) *tick {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(tickKey{}).(*tick)
	return t
}

// beginTick returns the tick already on ctx, or starts one and reports that
// the caller owns it. The tick id doubles as the request id in logs.
func (s *Scheduler) beginTick(ctx context.Context, job string, limit int) (context.Context, *tick, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t := tickFromContext(ctx); t != nil {
		return ctx, t, false
	}
	t := &tick{
		job:       job,
		id:        s.genID.Generate().String(),
		limit:     limit,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, tickKey{}, t)
	return obscontext.WithRequestID(ctx, t.id), t, true
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) tickFields(t *tick) []zap.Field {
	return []zap.Field{
		zap.String("job", t.job),
		zap.String("run_id", t.id),
		zap.Int("limit", t.limit),
	}
}

func (s *Scheduler) logTickStart(ctx context.Context, t *tick) {
	s.logger(ctx).Debug("scheduler.job.start", s.tickFields(t)...)
}

// logTickFinish stays at debug for idle ticks so an empty queue is quiet.
func (s *Scheduler) logTickFinish(ctx context.Context, t *tick) {
	fields := append(s.tickFields(t),
		zap.Int64("duration_ms", s.clock.Now().Sub(t.startedAt).Milliseconds()),
		zap.Int("processed_count", t.processed),
		zap.Int("error_count", t.failed),
	)
	log := s.logger(ctx)
	switch {
	case t.failed > 0:
		log.Warn("scheduler.job.finish", fields...)
	case t.processed == 0:
		log.Debug("scheduler.job.finish", fields...)
	default:
		log.Info("scheduler.job.finish", fields...)
	}
}

func (s *Scheduler) logJobError(ctx context.Context, t *tick, msg string, err error) {
	if err == nil {
		return
	}
	t.IncError()
	job := ""
	if t != nil {
		job = t.job
	}
	s.logger(ctx).Error(msg,
		zap.String("job", job),
		zap.String("error_type", metrics.ClassifyRecomputeReason(err)),
		zap.Bool("retryable", metrics.IsRetryable(err)),
		zap.Error(err),
	)
}
