package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/clock"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	"github.com/smallbiznis/bigdeal/internal/config"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/member"
	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	"github.com/smallbiznis/bigdeal/internal/ratelimit"
	"github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"github.com/smallbiznis/bigdeal/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const errorSummaryLimit = 256

// MemberComputer computes one member's records.
type MemberComputer interface {
	Compute(ctx context.Context, req member.Request) (member.Result, error)
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Engine        *config.EngineConfigHolder
	Records       computeddomain.Repository
	ScenarioSvc   scenariodomain.Service
	ConsortiumSvc consortiumdomain.Service
	Members       MemberComputer
	Limiter       *ratelimit.RecomputeLimiter `optional:"true"`
	Cache         *cache.Store                `optional:"true"`
	Metrics       *metrics.RecomputeMetrics   `optional:"true"`
	Requests      *metrics.Metrics            `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	engine        *config.EngineConfigHolder
	records       computeddomain.Repository
	scenarioSvc   scenariodomain.Service
	consortiumSvc consortiumdomain.Service
	members       MemberComputer
	limiter       *ratelimit.RecomputeLimiter
	cache         *cache.Store
	metrics       *metrics.RecomputeMetrics
	requests      *metrics.Metrics
	validate      *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("recompute.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		engine:        p.Engine,
		records:       p.Records,
		scenarioSvc:   p.ScenarioSvc,
		consortiumSvc: p.ConsortiumSvc,
		members:       p.Members,
		limiter:       p.Limiter,
		cache:         p.Cache,
		metrics:       p.Metrics,
		requests:      p.Requests,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (computeddomain.RecomputeJob, error) {
	job, err := s.enqueue(ctx, req)
	s.requests.RecordRecomputeRequest(ctx, enqueueOutcome(err))
	return job, err
}

func (s *Service) enqueue(ctx context.Context, req domain.EnqueueRequest) (computeddomain.RecomputeJob, error) {
	scenarioID := strings.TrimSpace(req.ScenarioID)
	if scenarioID == "" {
		return computeddomain.RecomputeJob{}, computeddomain.ErrInvalidScenario
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return computeddomain.RecomputeJob{}, domain.ErrInvalidEmail
	}

	c, err := s.consortiumSvc.Get(ctx, scenarioID)
	if err != nil {
		return computeddomain.RecomputeJob{}, err
	}
	// Configuration errors surface here, before any work is queued.
	cfg, err := s.scenarioSvc.Latest(ctx, scenarioID)
	if err != nil {
		return computeddomain.RecomputeJob{}, err
	}
	if err := s.scenarioSvc.Validate(cfg); err != nil {
		return computeddomain.RecomputeJob{}, err
	}

	pending, err := s.records.FindPendingJob(ctx, s.db, scenarioID)
	if err != nil {
		return computeddomain.RecomputeJob{}, storageErr(err)
	}
	if pending != nil {
		return computeddomain.RecomputeJob{}, computeddomain.ErrAlreadyQueued
	}

	allowed, err := s.limiter.AllowRequest(ctx, scenarioID)
	if err != nil {
		s.log.Warn("recompute rate limiter unavailable", zap.String("scenario_id", scenarioID), zap.Error(err))
	} else if !allowed.Allowed {
		return computeddomain.RecomputeJob{}, &domain.RateLimitedError{RetryAfter: allowed.RetryAfter}
	}

	members, err := s.consortiumSvc.Members(ctx, c)
	if err != nil {
		return computeddomain.RecomputeJob{}, storageErr(err)
	}

	key := scenarioID
	job := computeddomain.RecomputeJob{
		ID:             s.genID.Generate(),
		ScenarioID:     scenarioID,
		PendingKey:     &key,
		ConsortiumName: c.Name,
		PackageID:      c.PackageID,
		Email:          req.Email,
		Status:         computeddomain.JobStatusQueued,
		MembersTotal:   len(members),
		CreatedAt:      s.clock.Now(),
	}
	if err := s.records.InsertJob(ctx, s.db, &job); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return computeddomain.RecomputeJob{}, computeddomain.ErrAlreadyQueued
		}
		return computeddomain.RecomputeJob{}, storageErr(err)
	}

	s.log.Info("recompute queued",
		zap.String("scenario_id", scenarioID),
		zap.String("job_id", job.ID.String()),
		zap.Int("members", len(members)),
	)
	return job, nil
}

func enqueueOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, computeddomain.ErrAlreadyQueued):
		return "already_queued"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, scenariodomain.ErrConfiguration):
		return "configuration"
	default:
		return "rejected"
	}
}

func (s *Service) Status(ctx context.Context, scenarioID string) (domain.Status, error) {
	pending, err := s.records.FindPendingJob(ctx, s.db, strings.TrimSpace(scenarioID))
	if err != nil {
		return domain.Status{}, storageErr(err)
	}
	if pending == nil {
		return domain.Status{}, nil
	}

	status := domain.Status{
		Locked:          true,
		PercentComplete: percentComplete(pending),
	}
	if pending.Email != "" {
		email := pending.Email
		status.NotifyEmail = &email
	}
	return status, nil
}

func (s *Service) Progress(ctx context.Context, scenarioID string) (*float64, error) {
	pending, err := s.records.FindPendingJob(ctx, s.db, strings.TrimSpace(scenarioID))
	if err != nil {
		return nil, storageErr(err)
	}
	return percentComplete(pending), nil
}

// percentComplete counts members computed so far. Records become visible
// only when the whole generation is swapped in, so the job counters are the
// progress source.
func percentComplete(job *computeddomain.RecomputeJob) *float64 {
	if job == nil || job.Status != computeddomain.JobStatusRunning || job.MembersTotal <= 0 {
		return nil
	}
	done := job.MembersDone
	if done > job.MembersTotal {
		done = job.MembersTotal
	}
	pct := 100 * float64(done) / float64(job.MembersTotal)
	return &pct
}

func (s *Service) GetJob(ctx context.Context, scenarioID, jobID string) (computeddomain.RecomputeJob, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(jobID))
	if err != nil || id == 0 {
		return computeddomain.RecomputeJob{}, domain.ErrInvalidJobID
	}
	job, err := s.records.FindJob(ctx, s.db, id)
	if err != nil {
		return computeddomain.RecomputeJob{}, storageErr(err)
	}
	if job == nil || job.ScenarioID != strings.TrimSpace(scenarioID) {
		return computeddomain.RecomputeJob{}, computeddomain.ErrJobNotFound
	}
	return *job, nil
}

func (s *Service) ListJobs(ctx context.Context, req domain.ListJobsRequest) (domain.ListJobsResponse, error) {
	scenarioID := strings.TrimSpace(req.ScenarioID)
	if scenarioID == "" {
		return domain.ListJobsResponse{}, computeddomain.ErrInvalidScenario
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListJobsResponse{}, err
	}
	var before *snowflake.ID
	if cursor != nil {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListJobsResponse{}, pagination.ErrInvalidPageToken
		}
		before = &id
	}

	limit := req.Limit()
	jobs, err := s.records.ListJobs(ctx, s.db, scenarioID, before, limit+1)
	if err != nil {
		return domain.ListJobsResponse{}, storageErr(err)
	}
	jobs, info, err := pagination.Page(jobs, limit, func(job computeddomain.RecomputeJob) pagination.Cursor {
		return pagination.Cursor{ID: job.ID.String()}
	})
	if err != nil {
		return domain.ListJobsResponse{}, err
	}
	if jobs == nil {
		jobs = []computeddomain.RecomputeJob{}
	}
	return domain.ListJobsResponse{Jobs: jobs, PageInfo: info}, nil
}

// CopyScenario copies the current generation and saved settings of one
// scenario to another id. An empty target gets a fresh id.
func (s *Service) CopyScenario(ctx context.Context, req domain.CopyRequest) (domain.CopyResult, error) {
	src := strings.TrimSpace(req.SourceScenarioID)
	if src == "" {
		return domain.CopyResult{}, computeddomain.ErrInvalidScenario
	}
	dst := strings.TrimSpace(req.TargetScenarioID)
	if dst == "" {
		dst = strings.ToLower(ulid.Make().String())
	}
	if dst == src {
		return domain.CopyResult{}, domain.ErrInvalidTarget
	}

	pending, err := s.records.FindPendingJob(ctx, s.db, dst)
	if err != nil {
		return domain.CopyResult{}, storageErr(err)
	}
	if pending != nil {
		return domain.CopyResult{}, computeddomain.ErrAlreadyQueued
	}

	cfg, err := s.scenarioSvc.Latest(ctx, src)
	if err != nil {
		return domain.CopyResult{}, err
	}

	copied, err := s.records.CopyRecords(ctx, s.db, src, dst, s.clock.Now())
	if err != nil {
		return domain.CopyResult{}, storageErr(err)
	}

	if !cfg.SavedAt.IsZero() {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return domain.CopyResult{}, err
		}
		if _, err := s.scenarioSvc.Save(ctx, scenariodomain.SaveRequest{ScenarioID: dst, Raw: raw}); err != nil {
			return domain.CopyResult{}, err
		}
	}

	s.cache.InvalidateScenario(ctx, dst, cache.TriggerRecomputeCompleted)
	s.log.Info("scenario copied",
		zap.String("scenario_id", src),
		zap.String("target_scenario_id", dst),
		zap.Int64("records", copied),
	)
	return domain.CopyResult{ScenarioID: dst, Records: copied}, nil
}

func storageErr(err error) error {
	if err == nil || errors.Is(err, computeddomain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", computeddomain.ErrStorageUnavailable, err)
}

func errorSummary(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= errorSummaryLimit {
		return msg
	}
	cut := errorSummaryLimit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
