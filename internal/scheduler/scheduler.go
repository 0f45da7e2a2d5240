package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bigdeal/internal/clock"
	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const (
	jobRecompute     = "recompute"
	jobRecoverySweep = "recovery_sweep"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	RecomputeSvc recomputedomain.Service
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
}

// Scheduler drains the recompute queue on a fixed interval.
type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	recomputeSvc recomputedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.RecomputeSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		recomputeSvc: p.RecomputeSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	ctx, run, owner := s.beginTick(ctx, name, batchSize)
	if owner {
		s.logTickStart(ctx, run)
	}

	err := fn(ctx)
	if owner {
		if err != nil && run.failed == 0 {
			run.IncError()
		}
		s.logTickFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{jobRecoverySweep, s.isJobEnabled(jobRecoverySweep), func(ctx context.Context) error {
			return s.runJob(ctx, jobRecoverySweep, 0, 30*time.Second, s.RecoverySweepJob)
		}},
		{jobRecompute, s.isJobEnabled(jobRecompute), func(ctx context.Context) error {
			// Each recompute carries its own deadline.
			return s.runJob(ctx, jobRecompute, s.cfg.MaxJobsPerRun, 0, s.RecomputeJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RecomputeJob processes queued recomputes until the queue is empty or the
// per-run budget is spent. A failed job does not stop the drain.
func (s *Scheduler) RecomputeJob(ctx context.Context) error {
	run := tickFromContext(ctx)
	var jobErr error

	for i := 0; i < s.cfg.MaxJobsPerRun; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		claimed, err := s.recomputeSvc.ProcessNext(ctx)
		if errors.Is(err, recomputedomain.ErrLockHeld) {
			break
		}
		if claimed {
			run.AddProcessed(1)
		}
		if err != nil {
			s.logJobError(ctx, run, "recompute job failed", err)
			jobErr = errors.Join(jobErr, err)
		}
		if !claimed {
			break
		}
	}
	return jobErr
}
