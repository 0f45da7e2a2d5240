package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/clock"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	"github.com/smallbiznis/bigdeal/internal/computed/repository"
	"github.com/smallbiznis/bigdeal/internal/config"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/livescenario"
	"github.com/smallbiznis/bigdeal/internal/member"
	"github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"github.com/smallbiznis/bigdeal/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testScenario = "scn-1"

type fakeConsortium struct {
	consortiumdomain.Service

	members []consortiumdomain.MemberPackage
}

func (f *fakeConsortium) Get(ctx context.Context, scenarioID string) (consortiumdomain.Consortium, error) {
	if scenarioID != testScenario {
		return consortiumdomain.Consortium{}, consortiumdomain.ErrConsortiumNotFound
	}
	return consortiumdomain.Consortium{ScenarioID: scenarioID, PackageID: "pkg-jisc", Name: "Jisc"}, nil
}

func (f *fakeConsortium) Members(ctx context.Context, c consortiumdomain.Consortium) ([]consortiumdomain.MemberPackage, error) {
	return f.members, nil
}

func (f *fakeConsortium) IncludedMembers(ctx context.Context, c consortiumdomain.Consortium) ([]string, error) {
	ids := make([]string, 0, len(f.members))
	for _, m := range f.members {
		ids = append(ids, m.PackageID)
	}
	return ids, nil
}

func (f *fakeConsortium) BigDealCostForIncluded(ctx context.Context, included []string) (float64, error) {
	return 1250, nil
}

type fakeScenario struct {
	scenariodomain.Service

	cfg      scenariodomain.ScenarioConfig
	invalid  error
	saved    []scenariodomain.SaveRequest
	lastCost float64
}

func (f *fakeScenario) Latest(ctx context.Context, scenarioID string) (scenariodomain.ScenarioConfig, error) {
	cfg := f.cfg
	cfg.ScenarioID = scenarioID
	return cfg, nil
}

func (f *fakeScenario) Validate(cfg scenariodomain.ScenarioConfig) error {
	f.lastCost = cfg.Configs.CostBigdeal
	return f.invalid
}

func (f *fakeScenario) Save(ctx context.Context, req scenariodomain.SaveRequest) (scenariodomain.ScenarioConfig, error) {
	f.saved = append(f.saved, req)
	return f.cfg, nil
}

// fakeMembers returns one record per issn for every member unless the member
// has a scripted error.
type fakeMembers struct {
	issns  []string
	errs   map[string]error
	panics map[string]bool
	// stall members block until their context ends.
	stall map[string]bool
	hold  time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeMembers) Compute(ctx context.Context, req member.Request) (member.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.panics[req.Member.PackageID] {
		panic("boom")
	}
	if f.stall[req.Member.PackageID] {
		<-ctx.Done()
		return member.Result{}, ctx.Err()
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if err := f.errs[req.Member.PackageID]; err != nil {
		return member.Result{}, err
	}
	records := make([]computeddomain.JournalMetricRecord, 0, len(f.issns))
	for _, issn := range f.issns {
		records = append(records, computeddomain.JournalMetricRecord{
			ScenarioID:      req.ScenarioID,
			MemberPackageID: req.Member.PackageID,
			IssnL:           issn,
			PackageID:       req.ConsortiumPackageID,
			Usage:           10,
			Updated:         time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return member.Result{Records: records, Skipped: 1}, nil
}

type fixture struct {
	conn       *gorm.DB
	svc        *Service
	repo       computeddomain.Repository
	store      *cache.Store
	scenario   *fakeScenario
	members    *fakeMembers
	consortium *fakeConsortium
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := db.NewTest(t, &computeddomain.JournalMetricRecord{}, &computeddomain.RecomputeJob{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	f := &fixture{
		conn:  conn,
		repo:  repository.Provide(),
		store: cache.NewStore(zap.NewNop(), nil),
		scenario: &fakeScenario{cfg: scenariodomain.ScenarioConfig{
			Configs: scenariodomain.DefaultParameters(),
		}},
		members: &fakeMembers{issns: []string{"0000-0001", "0000-0002"}},
		consortium: &fakeConsortium{members: []consortiumdomain.MemberPackage{
			{PackageID: "pkg-a", InstitutionID: "inst-a"},
			{PackageID: "pkg-b", InstitutionID: "inst-b"},
		}},
	}
	engine := config.DefaultEngineConfig()
	engine.Concurrency = 2
	f.svc = New(Params{
		DB:            conn,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		Engine:        config.NewStaticEngineConfigHolder(engine),
		Records:       f.repo,
		ScenarioSvc:   f.scenario,
		ConsortiumSvc: f.consortium,
		Members:       f.members,
		Cache:         f.store,
	}).(*Service)
	return f
}

func (f *fixture) records(t *testing.T) []computeddomain.JournalMetricRecord {
	t.Helper()
	records, err := f.repo.ReadRecords(context.Background(), f.conn, testScenario)
	require.NoError(t, err)
	return records
}

func (f *fixture) job(t *testing.T, id snowflake.ID) computeddomain.RecomputeJob {
	t.Helper()
	job, err := f.repo.FindJob(context.Background(), f.conn, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return *job
}

func TestEnqueueLocksScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	status, err := f.svc.Status(ctx, testScenario)
	require.NoError(t, err)
	assert.False(t, status.Locked)

	job, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario, Email: "ops@example.org"})
	require.NoError(t, err)
	assert.Equal(t, computeddomain.JobStatusQueued, job.Status)
	assert.Equal(t, 2, job.MembersTotal)

	status, err = f.svc.Status(ctx, testScenario)
	require.NoError(t, err)
	assert.True(t, status.Locked)
	assert.Nil(t, status.PercentComplete)
	require.NotNil(t, status.NotifyEmail)
	assert.Equal(t, "ops@example.org", *status.NotifyEmail)

	_, err = f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	assert.ErrorIs(t, err, computeddomain.ErrAlreadyQueued)
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: " "})
	assert.ErrorIs(t, err, computeddomain.ErrInvalidScenario)

	_, err = f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario, Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: "unknown"})
	assert.ErrorIs(t, err, consortiumdomain.ErrConsortiumNotFound)

	f.scenario.invalid = &scenariodomain.ConfigurationError{Fields: []string{"cost_ill"}}
	_, err = f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	assert.ErrorIs(t, err, scenariodomain.ErrConfiguration)

	status, err := f.svc.Status(ctx, testScenario)
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestProcessNextWritesGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claimed, err := f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	job, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)
	key := cache.ScenarioKey(cache.EntityRecords, testScenario)
	before := f.store.Generation(key)

	claimed, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Len(t, f.records(t), 4)
	assert.Greater(t, f.store.Generation(key), before)
	assert.Equal(t, 1250.0, f.scenario.lastCost)

	done := f.job(t, job.ID)
	assert.Equal(t, computeddomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.MembersDone)
	assert.Zero(t, done.MembersFailed)
	assert.NotNil(t, done.CompletedAt)

	status, err := f.svc.Status(ctx, testScenario)
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestFailedMemberKeepsPriorRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)
	_, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)

	f.members.issns = []string{"0000-0003"}
	f.members.errs = map[string]error{"pkg-b": fmt.Errorf("%w: status 422", livescenario.ErrRejected)}
	job, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)
	_, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)

	byMember := map[string][]string{}
	for _, r := range f.records(t) {
		byMember[r.MemberPackageID] = append(byMember[r.MemberPackageID], r.IssnL)
	}
	assert.Equal(t, []string{"0000-0003"}, byMember["pkg-a"])
	assert.ElementsMatch(t, []string{"0000-0001", "0000-0002"}, byMember["pkg-b"])

	done := f.job(t, job.ID)
	assert.Equal(t, computeddomain.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.MembersFailed)
	var failures []computeddomain.MemberFailure
	require.NoError(t, json.Unmarshal(done.Failures, &failures))
	require.Len(t, failures, 1)
	assert.Equal(t, "pkg-b", failures[0].MemberPackageID)
	assert.Equal(t, domain.ReasonConfiguration, failures[0].Reason)
}

func TestAllMembersFailedLeavesGenerationUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)
	_, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)

	f.members.errs = map[string]error{"pkg-a": livescenario.ErrUnavailable}
	f.members.panics = map[string]bool{"pkg-b": true}
	job, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)

	claimed, err := f.svc.ProcessNext(ctx)
	assert.True(t, claimed)
	assert.ErrorIs(t, err, computeddomain.ErrAllMembersFailed)
	assert.Len(t, f.records(t), 4)

	done := f.job(t, job.ID)
	assert.Equal(t, computeddomain.JobStatusFailed, done.Status)
	assert.Nil(t, done.PendingKey)
	var failures []computeddomain.MemberFailure
	require.NoError(t, json.Unmarshal(done.Failures, &failures))
	require.Len(t, failures, 2)
	assert.Equal(t, domain.ReasonUpstreamUnavailable, failures[0].Reason)
	assert.Equal(t, domain.ReasonPanic, failures[1].Reason)
}

func TestRunBoundsMemberConcurrency(t *testing.T) {
	f := newFixture(t)
	f.members.hold = 20 * time.Millisecond
	f.consortium.members = nil
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("pkg-%d", i)
		f.consortium.members = append(f.consortium.members, consortiumdomain.MemberPackage{PackageID: id, InstitutionID: "inst-" + id})
	}

	result, err := f.svc.Run(context.Background(), computeddomain.RecomputeJob{ID: 1, ScenarioID: testScenario})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, result.Outcome)
	assert.Equal(t, 12, result.RecordsWritten)

	peak := f.members.peak.Load()
	assert.Positive(t, peak)
	assert.LessOrEqual(t, peak, int32(f.svc.engine.Get().Concurrency))
}

func TestRunIsolatesMemberTimeout(t *testing.T) {
	f := newFixture(t)
	engine := config.DefaultEngineConfig()
	engine.Concurrency = 2
	engine.MemberTimeout = 50 * time.Millisecond
	f.svc.engine = config.NewStaticEngineConfigHolder(engine)
	f.members.stall = map[string]bool{"pkg-b": true}

	result, err := f.svc.Run(context.Background(), computeddomain.RecomputeJob{ID: 1, ScenarioID: testScenario})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePartial, result.Outcome)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "pkg-b", result.Failures[0].MemberPackageID)
	assert.Equal(t, domain.ReasonTimeout, result.Failures[0].Reason)

	records := f.records(t)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "pkg-a", r.MemberPackageID)
	}
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	f := newFixture(t)
	f.scenario.invalid = &scenariodomain.ConfigurationError{Fields: []string{"cost_bigdeal"}}

	result, err := f.svc.Run(context.Background(), computeddomain.RecomputeJob{ID: 1, ScenarioID: testScenario})
	assert.ErrorIs(t, err, scenariodomain.ErrConfiguration)
	assert.Equal(t, domain.OutcomeFailed, result.Outcome)
	assert.Empty(t, f.records(t))
}

func TestRunWithoutMembersClearsGeneration(t *testing.T) {
	f := newFixture(t)
	f.consortium.members = nil

	result, err := f.svc.Run(context.Background(), computeddomain.RecomputeJob{ID: 1, ScenarioID: testScenario})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, result.Outcome)
	assert.Zero(t, result.MembersTotal)
}

func TestMemberFailureReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, domain.ReasonTimeout},
		{livescenario.ErrRejected, domain.ReasonConfiguration},
		{fmt.Errorf("wrap: %w", livescenario.ErrUnavailable), domain.ReasonUpstreamUnavailable},
		{livescenario.ErrMalformedResponse, domain.ReasonMalformedResponse},
		{errors.New("other"), domain.ReasonUnknown},
		{&domain.MemberComputationError{Reason: domain.ReasonPanic, Err: errors.New("x")}, domain.ReasonPanic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, memberFailureReason(tc.err), tc.err.Error())
	}
}

func TestProgressWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)
	_, err = f.repo.ClaimNextJob(ctx, f.conn, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, f.repo.SetMembersTotal(ctx, f.conn, job.ID, 4))
	require.NoError(t, f.repo.MarkMemberDone(ctx, f.conn, job.ID, false))

	progress, err := f.svc.Progress(ctx, testScenario)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.InDelta(t, 25.0, *progress, 1e-9)
}

func TestJobsListingAndLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		job, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
		require.NoError(t, err)
		ids = append(ids, job.ID)
		_, err = f.svc.ProcessNext(ctx)
		require.NoError(t, err)
	}

	page, err := f.svc.ListJobs(ctx, domain.ListJobsRequest{ScenarioID: testScenario, Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, ids[2], page.Jobs[0].ID)

	next, err := f.svc.ListJobs(ctx, domain.ListJobsRequest{ScenarioID: testScenario, Pagination: pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, next.Jobs, 1)
	assert.Equal(t, ids[0], next.Jobs[0].ID)
	assert.False(t, next.PageInfo.HasMore)

	got, err := f.svc.GetJob(ctx, testScenario, ids[1].String())
	require.NoError(t, err)
	assert.Equal(t, computeddomain.JobStatusCompleted, got.Status)

	_, err = f.svc.GetJob(ctx, "other", ids[1].String())
	assert.ErrorIs(t, err, computeddomain.ErrJobNotFound)
	_, err = f.svc.GetJob(ctx, testScenario, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidJobID)
}

func TestCopyScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, domain.EnqueueRequest{ScenarioID: testScenario})
	require.NoError(t, err)
	_, err = f.svc.ProcessNext(ctx)
	require.NoError(t, err)

	f.scenario.cfg.SavedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	result, err := f.svc.CopyScenario(ctx, domain.CopyRequest{SourceScenarioID: testScenario, TargetScenarioID: "scn-copy"})
	require.NoError(t, err)
	assert.Equal(t, "scn-copy", result.ScenarioID)
	assert.Equal(t, int64(4), result.Records)
	require.Len(t, f.scenario.saved, 1)
	assert.Equal(t, "scn-copy", f.scenario.saved[0].ScenarioID)

	copied, err := f.repo.ReadRecords(ctx, f.conn, "scn-copy")
	require.NoError(t, err)
	assert.Len(t, copied, 4)

	generated, err := f.svc.CopyScenario(ctx, domain.CopyRequest{SourceScenarioID: testScenario})
	require.NoError(t, err)
	assert.Len(t, generated.ScenarioID, 26)

	_, err = f.svc.CopyScenario(ctx, domain.CopyRequest{SourceScenarioID: testScenario, TargetScenarioID: testScenario})
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)
}

func TestErrorSummaryKeepsRunesWhole(t *testing.T) {
	assert.Empty(t, errorSummary(nil))
	assert.Equal(t, "short", errorSummary(errors.New("short")))

	// 255 ASCII bytes then a 3-byte rune straddling the limit.
	msg := strings.Repeat("x", errorSummaryLimit-1) + "€tail"
	got := errorSummary(errors.New(msg))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", errorSummaryLimit-1), got)

	long := strings.Repeat("é", errorSummaryLimit)
	got = errorSummary(errors.New(long))
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, errorSummaryLimit, len(got))
}
