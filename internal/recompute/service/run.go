package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/cache"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/livescenario"
	"github.com/smallbiznis/bigdeal/internal/member"
	obscontext "github.com/smallbiznis/bigdeal/internal/observability/context"
	"github.com/smallbiznis/bigdeal/internal/observability/logger"
	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	"github.com/smallbiznis/bigdeal/internal/observability/tracing"
	"github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type memberOutcome struct {
	records []computeddomain.JournalMetricRecord
	skipped int
	failure *computeddomain.MemberFailure
}

// Run recomputes every member of the job's consortium and swaps the results
// in as one generation. Members that fail keep their previous records.
func (s *Service) Run(ctx context.Context, job computeddomain.RecomputeJob) (result domain.RunResult, err error) {
	ctx = obscontext.WithScenarioID(ctx, job.ScenarioID)
	ctx = obscontext.WithJobID(ctx, job.ID.String())
	ctx, span := tracing.Start(ctx, "recompute.run",
		attribute.String("scenario_id", job.ScenarioID),
		attribute.Int("attempt", job.Attempts),
	)
	defer func() { tracing.End(span, err) }()

	log := logger.WithScenario(logger.WithContext(ctx, s.log), job.ScenarioID)
	result = domain.RunResult{ScenarioID: job.ScenarioID, Outcome: domain.OutcomeFailed}

	c, err := s.consortiumSvc.Get(ctx, job.ScenarioID)
	if err != nil {
		return result, err
	}
	members, err := s.consortiumSvc.Members(ctx, c)
	if err != nil {
		return result, storageErr(err)
	}
	cfg, err := s.scenarioSvc.Latest(ctx, job.ScenarioID)
	if err != nil {
		return result, err
	}
	included, err := s.consortiumSvc.IncludedMembers(ctx, c)
	if err != nil {
		return result, storageErr(err)
	}
	cost, err := s.consortiumSvc.BigDealCostForIncluded(ctx, included)
	if err != nil {
		return result, storageErr(err)
	}
	cfg = cfg.WithBigDealCost(cost)
	if err := s.scenarioSvc.Validate(cfg); err != nil {
		return result, err
	}

	result.MembersTotal = len(members)
	if err := s.records.SetMembersTotal(ctx, s.db, job.ID, len(members)); err != nil {
		return result, storageErr(err)
	}

	outcomes := s.computeMembers(ctx, log, job, c, members, cfg)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	var (
		records     []computeddomain.JournalMetricRecord
		keepMembers []string
	)
	for i, out := range outcomes {
		result.RowsSkipped += out.skipped
		if out.failure != nil {
			result.Failures = append(result.Failures, *out.failure)
			keepMembers = append(keepMembers, members[i].PackageID)
			continue
		}
		records = append(records, out.records...)
	}
	result.MembersFailed = len(result.Failures)

	if len(members) > 0 && result.MembersFailed == len(members) {
		return result, computeddomain.ErrAllMembersFailed
	}

	if err := s.records.ReplaceRecords(ctx, s.db, job.ScenarioID, records, keepMembers, s.engine.Get().ReplaceBatchSize); err != nil {
		return result, storageErr(err)
	}
	s.cache.InvalidateScenario(ctx, job.ScenarioID, cache.TriggerRecomputeCompleted)

	result.RecordsWritten = len(records)
	result.Outcome = domain.OutcomeCompleted
	if result.MembersFailed > 0 {
		result.Outcome = domain.OutcomePartial
	}
	s.metrics.AddRecordsWritten(len(records))

	log.Info("recompute generation written",
		zap.Int("members", result.MembersTotal),
		zap.Int("members_failed", result.MembersFailed),
		zap.Int("records", result.RecordsWritten),
		zap.Int("rows_skipped", result.RowsSkipped),
	)
	return result, nil
}

func (s *Service) computeMembers(ctx context.Context, log *zap.Logger, job computeddomain.RecomputeJob, c consortiumdomain.Consortium, members []consortiumdomain.MemberPackage, cfg scenariodomain.ScenarioConfig) []memberOutcome {
	engine := s.engine.Get()
	outcomes := make([]memberOutcome, len(members))

	var g errgroup.Group
	if engine.Concurrency > 0 {
		g.SetLimit(engine.Concurrency)
	}
	for i, m := range members {
		g.Go(func() error {
			started := time.Now()
			res, err := s.computeMember(ctx, engine.MemberTimeout, member.Request{
				ScenarioID:          job.ScenarioID,
				ConsortiumPackageID: c.PackageID,
				Member:              m,
				Config:              cfg,
			})
			s.metrics.ObserveMember(time.Since(started))

			if err != nil {
				reason := memberFailureReason(err)
				s.metrics.IncMemberFailure(reason)
				logger.WithMember(log, m.PackageID).Warn("member computation failed",
					zap.String("reason", reason),
					zap.Error(err),
				)
				outcomes[i] = memberOutcome{failure: &computeddomain.MemberFailure{
					MemberPackageID: m.PackageID,
					Reason:          reason,
					Message:         errorSummary(err),
				}}
			} else {
				outcomes[i] = memberOutcome{records: res.Records, skipped: res.Skipped}
			}

			if markErr := s.records.MarkMemberDone(ctx, s.db, job.ID, err != nil); markErr != nil {
				log.Warn("failed to record member progress", zap.String("member_package_id", m.PackageID), zap.Error(markErr))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Service) computeMember(ctx context.Context, timeout time.Duration, req member.Request) (res member.Result, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &domain.MemberComputationError{
				MemberPackageID: req.Member.PackageID,
				Reason:          domain.ReasonPanic,
				Err:             fmt.Errorf("panic: %v", r),
			}
		}
	}()

	res, err = s.members.Compute(ctx, req)
	if err != nil {
		return member.Result{}, &domain.MemberComputationError{
			MemberPackageID: req.Member.PackageID,
			Reason:          memberFailureReason(err),
			Err:             err,
		}
	}
	return res, nil
}

func memberFailureReason(err error) string {
	var mce *domain.MemberComputationError
	if errors.As(err, &mce) && mce.Reason != "" {
		return mce.Reason
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonTimeout
	case errors.Is(err, livescenario.ErrRejected):
		return domain.ReasonConfiguration
	case errors.Is(err, livescenario.ErrUnavailable):
		return domain.ReasonUpstreamUnavailable
	case errors.Is(err, livescenario.ErrMalformedResponse):
		return domain.ReasonMalformedResponse
	default:
		return domain.ReasonUnknown
	}
}

// ProcessNext claims the oldest queued job and runs it. It reports false when
// there was nothing to claim.
func (s *Service) ProcessNext(ctx context.Context) (bool, error) {
	job, err := s.records.ClaimNextJob(ctx, s.db, s.clock.Now())
	if err != nil {
		return false, storageErr(err)
	}
	if job == nil {
		return false, nil
	}

	engine := s.engine.Get()
	log := s.log.With(zap.String("scenario_id", job.ScenarioID), zap.String("job_id", job.ID.String()))

	lockStarted := time.Now()
	token, ok, err := s.limiter.TryLockRun(ctx, job.ScenarioID, engine.JobTimeout)
	s.metrics.ObserveLockWait(time.Since(lockStarted))
	if err != nil {
		log.Warn("recompute lock unavailable", zap.Error(err))
	} else if !ok {
		if relErr := s.records.ReleaseClaim(ctx, s.db, job.ID); relErr != nil {
			return false, storageErr(relErr)
		}
		log.Info("recompute already running elsewhere, claim released")
		return false, domain.ErrLockHeld
	}
	defer func() {
		if token == "" {
			return
		}
		if relErr := s.limiter.ReleaseRun(context.WithoutCancel(ctx), job.ScenarioID, token); relErr != nil {
			log.Warn("failed to release recompute lock", zap.Error(relErr))
		}
	}()

	runCtx := ctx
	if engine.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, engine.JobTimeout)
		defer cancel()
	}

	started := time.Now()
	result, runErr := s.Run(runCtx, *job)
	s.metrics.ObserveJobDuration(time.Since(started))

	// Bookkeeping outlives the run deadline.
	finishCtx := context.WithoutCancel(ctx)
	failures, err := json.Marshal(result.Failures)
	if err != nil {
		return true, err
	}

	if runErr == nil {
		if err := s.records.FinishJob(finishCtx, s.db, job.ID, computeddomain.JobStatusCompleted, failures, "", s.clock.Now()); err != nil {
			return true, storageErr(err)
		}
		s.metrics.IncJobRun(string(result.Outcome))
		log.Info("recompute finished",
			zap.String("outcome", string(result.Outcome)),
			zap.Int("members_failed", result.MembersFailed),
		)
		return true, nil
	}

	s.metrics.IncJobError(runErr)
	if metrics.IsRetryable(runErr) && job.Attempts < engine.MaxAttempts {
		if err := s.records.RequeueJob(finishCtx, s.db, job.ID, errorSummary(runErr)); err != nil {
			return true, errors.Join(runErr, storageErr(err))
		}
		s.metrics.IncJobRun(string(domain.OutcomeRequeued))
		log.Warn("recompute requeued", zap.Int("attempt", job.Attempts), zap.Error(runErr))
		return true, runErr
	}

	if err := s.records.FinishJob(finishCtx, s.db, job.ID, computeddomain.JobStatusFailed, failures, errorSummary(runErr), s.clock.Now()); err != nil {
		return true, errors.Join(runErr, storageErr(err))
	}
	s.metrics.IncJobRun(string(domain.OutcomeFailed))
	log.Error("recompute failed", zap.Int("attempt", job.Attempts), zap.Error(runErr))
	return true, runErr
}

func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	count, err := s.records.RequeueStaleJobs(ctx, s.db, s.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, storageErr(err)
	}
	if count > 0 {
		s.log.Warn("requeued stale recompute jobs", zap.Int64("count", count))
	}
	return count, nil
}
