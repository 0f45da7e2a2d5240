package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/bigdeal/internal/aggregation"
	"github.com/smallbiznis/bigdeal/internal/apc"
	"github.com/smallbiznis/bigdeal/internal/cache"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/costmodel"
	"github.com/smallbiznis/bigdeal/internal/dashboard/domain"
	"github.com/smallbiznis/bigdeal/internal/journalmeta"
	"github.com/smallbiznis/bigdeal/internal/observability/tracing"
	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// A member scenario saved this soon after the request was sent is treated
// as unchanged.
const changedGrace = 2 * time.Minute

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Engine        *aggregation.Engine
	Apc           *apc.Service
	Directory     *journalmeta.Directory
	Records       computeddomain.Repository
	ScenarioSvc   scenariodomain.Service
	ConsortiumSvc consortiumdomain.Service
	RecomputeSvc  recomputedomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	engine        *aggregation.Engine
	apc           *apc.Service
	directory     *journalmeta.Directory
	records       computeddomain.Repository
	scenarioSvc   scenariodomain.Service
	consortiumSvc consortiumdomain.Service
	recomputeSvc  recomputedomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("dashboard.service"),
		engine:        p.Engine,
		apc:           p.Apc,
		directory:     p.Directory,
		records:       p.Records,
		scenarioSvc:   p.ScenarioSvc,
		consortiumSvc: p.ConsortiumSvc,
		recomputeSvc:  p.RecomputeSvc,
	}
}

func (s *Service) RankedJournals(ctx context.Context, scenarioID string, included []string) (out domain.RankedJournals, err error) {
	ctx, span := tracing.Start(ctx, "dashboard.ranked_journals", attribute.String("scenario_id", scenarioID))
	defer func() { tracing.End(span, err) }()

	scope := s.engine.NewScope()
	meta, cfg, err := s.meta(ctx, scope, scenarioID)
	if err != nil {
		return domain.RankedJournals{}, err
	}

	var journals []aggregation.ConsortiumJournal
	if included == nil {
		journals, err = s.engine.Journals(ctx, scope, scenarioID)
	} else {
		journals, err = s.engine.Aggregate(ctx, scope, scenarioID, included)
	}
	if err != nil {
		return domain.RankedJournals{}, err
	}
	views, err := s.journalViews(ctx, scope, journals)
	if err != nil {
		return domain.RankedJournals{}, err
	}
	institutions, err := s.institutions(ctx, scope, scenarioID)
	if err != nil {
		return domain.RankedJournals{}, err
	}
	status, err := s.status(ctx, scope, scenarioID)
	if err != nil {
		return domain.RankedJournals{}, err
	}

	return domain.RankedJournals{
		Meta:               meta,
		Saved:              cfg,
		Journals:           views,
		MemberInstitutions: institutions,
		Warnings:           []string{},
		Status:             status,
	}, nil
}

func (s *Service) Summary(ctx context.Context, scenarioID string) (domain.Summary, error) {
	scope := s.engine.NewScope()
	meta, cfg, err := s.meta(ctx, scope, scenarioID)
	if err != nil {
		return domain.Summary{}, err
	}
	journals, err := s.engine.Journals(ctx, scope, scenarioID)
	if err != nil {
		return domain.Summary{}, err
	}
	members, err := s.engine.Members(ctx, scope, scenarioID)
	if err != nil {
		return domain.Summary{}, err
	}
	included, err := s.engine.Included(ctx, scope, scenarioID)
	if err != nil {
		return domain.Summary{}, err
	}
	status, err := s.status(ctx, scope, scenarioID)
	if err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{
		Meta:               meta,
		NumJournals:        len(journals),
		NumMembers:         len(members),
		NumMembersIncluded: len(included),
		BigDealCost:        cfg.Configs.CostBigdeal,
		Status:             status,
	}
	for _, j := range journals {
		summary.Usage += j.Usage
		summary.Cost += j.Cost
		summary.IllCost += j.IllCost
		if j.Subscribed() {
			summary.NumSubscribed++
			summary.SubscribedCost += j.Cost
		}
		if j.SubscribedBulk {
			summary.NumSubscribedBulk++
		}
		if j.SubscribedCustom {
			summary.NumSubscribedCustom++
		}
	}
	summary.Cpu = cpuValue(costmodel.CostPerUse(summary.Cost, summary.Usage))
	return summary, nil
}

func (s *Service) ApcRollup(ctx context.Context, scenarioID string) (domain.ApcRollup, error) {
	scope := s.engine.NewScope()
	meta, _, err := s.meta(ctx, scope, scenarioID)
	if err != nil {
		return domain.ApcRollup{}, err
	}
	journals, err := s.engine.Journals(ctx, scope, scenarioID)
	if err != nil {
		return domain.ApcRollup{}, err
	}
	included, err := s.engine.Included(ctx, scope, scenarioID)
	if err != nil {
		return domain.ApcRollup{}, err
	}
	apcJournals, err := s.apc.Journals(ctx, scope, scenarioID, included)
	if err != nil {
		return domain.ApcRollup{}, err
	}

	ranked := make(map[string]aggregation.ConsortiumJournal, len(journals))
	for _, j := range journals {
		ranked[j.IssnL] = j
	}

	out := domain.ApcRollup{Meta: meta, Journals: make([]domain.ApcJournal, 0, len(apcJournals))}
	for _, a := range apcJournals {
		row := domain.ApcJournal{
			IssnL:                a.IssnL,
			Title:                a.Title,
			OaStatus:             a.OaStatus,
			Years:                a.Years,
			NumPapersByYear:      a.NumPapersByYear,
			CostByYear:           a.CostByYear,
			NumPapers:            a.NumPapersHistorical,
			CostApc:              a.CostApc(),
			CostApcHybrid:        a.CostApcHybrid(),
			FractionalAuthorship: costmodel.Round(a.FractionalAuthorship, 1),
		}
		if a.ApcPrice != nil {
			price := int64(*a.ApcPrice)
			row.ApcPrice = &price
		}
		if j, ok := ranked[a.IssnL]; ok {
			rank := j.CpuRank
			row.CpuRank = &rank
			row.Subscribed = j.Subscribed()
		}
		out.TotalCostApc += row.CostApc
		out.TotalCostApcHybrid += row.CostApcHybrid
		out.Journals = append(out.Journals, row)
	}
	return out, nil
}

func (s *Service) Institutions(ctx context.Context, scenarioID string) ([]domain.Institution, error) {
	return s.institutions(ctx, s.engine.NewScope(), scenarioID)
}

func (s *Service) JournalZoom(ctx context.Context, scenarioID, issnL string) (domain.JournalZoom, error) {
	scope := s.engine.NewScope()
	issnL = strings.ToUpper(strings.TrimSpace(issnL))
	included, err := s.engine.Included(ctx, scope, scenarioID)
	if err != nil {
		return domain.JournalZoom{}, err
	}
	rows, err := s.records.ReadJournalRecords(ctx, s.db, scenarioID, issnL)
	if err != nil {
		return domain.JournalZoom{}, storageErr(err)
	}
	meta, err := s.directory.Lookup(ctx, scope, issnL)
	if err != nil {
		return domain.JournalZoom{}, err
	}

	keep := toSet(included)
	members := make([]domain.ZoomMember, 0, len(rows))
	for _, r := range rows {
		if _, ok := keep[r.MemberPackageID]; !ok {
			continue
		}
		members = append(members, domain.ZoomMember{
			InstitutionID:   r.InstitutionID,
			InstitutionName: r.InstitutionName,
			PackageID:       r.MemberPackageID,
			Usage:           r.Usage,
			Cpu:             recordCpu(r),
		})
	}
	sort.SliceStable(members, func(a, b int) bool {
		return members[a].Usage > members[b].Usage
	})
	return domain.JournalZoom{IssnL: issnL, Title: meta.Title, Members: members}, nil
}

func (s *Service) JournalsByInstitution(ctx context.Context, scenarioID string, memberIDs []string) ([]domain.InstitutionJournal, error) {
	scope := s.engine.NewScope()
	if len(memberIDs) == 0 {
		included, err := s.engine.Included(ctx, scope, scenarioID)
		if err != nil {
			return nil, err
		}
		memberIDs = included
	}
	records, err := s.engine.Records(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.engine.SavedConfig(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}

	keep := toSet(memberIDs)
	selected := make([]computeddomain.JournalMetricRecord, 0, len(records))
	issns := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := keep[r.MemberPackageID]; !ok {
			continue
		}
		selected = append(selected, r)
		issns = append(issns, r.IssnL)
	}
	titles, err := s.directory.LookupMany(ctx, scope, issns)
	if err != nil {
		return nil, err
	}

	out := make([]domain.InstitutionJournal, 0, len(selected))
	for _, r := range selected {
		j := titles[r.IssnL]
		out = append(out, domain.InstitutionJournal{
			IssnL:                  r.IssnL,
			Title:                  j.Title,
			Issns:                  j.DisplayIssns(),
			PackageID:              r.MemberPackageID,
			InstitutionID:          r.InstitutionID,
			InstitutionName:        r.InstitutionName,
			InstitutionCode:        institutionCode(r),
			Usage:                  r.Usage,
			Cpu:                    recordCpu(r),
			SubscriptionCost:       r.SubscriptionCost,
			IllCost:                r.IllCost,
			AuthorshipFraction:     r.AuthorshipFraction,
			SubscribedByConsortium: cfg.Subscribed(r.IssnL) || cfg.CustomSubscribed(r.IssnL),
		})
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].PackageID < out[b].PackageID
	})
	return out, nil
}

func (s *Service) RecomputeStatus(ctx context.Context, scenarioID string) (recomputedomain.Status, error) {
	return s.status(ctx, s.engine.NewScope(), scenarioID)
}

func (s *Service) status(ctx context.Context, scope *cache.Scope, scenarioID string) (recomputedomain.Status, error) {
	return cache.LoadLocal(ctx, scope, cache.ScenarioKey(cache.EntityRecomputeStatus, scenarioID), func(ctx context.Context) (recomputedomain.Status, error) {
		return s.recomputeSvc.Status(ctx, scenarioID)
	})
}

func (s *Service) meta(ctx context.Context, scope *cache.Scope, scenarioID string) (domain.Meta, scenariodomain.ScenarioConfig, error) {
	c, err := s.engine.Consortium(ctx, scope, scenarioID)
	if err != nil {
		return domain.Meta{}, scenariodomain.ScenarioConfig{}, err
	}
	cfg, err := s.engine.SavedConfig(ctx, scope, scenarioID)
	if err != nil {
		return domain.Meta{}, scenariodomain.ScenarioConfig{}, err
	}

	name := cfg.Name
	if name == "" {
		name = c.ScenarioName
	}
	if name == "" {
		name = domain.DefaultScenarioName
	}
	return domain.Meta{
		PublisherName:   c.Publisher,
		InstitutionName: c.Name,
		InstitutionID:   c.InstitutionID,
		PackageID:       c.PackageID,
		ScenarioID:      c.ScenarioID,
		ScenarioName:    name,
		IsBaseScenario:  true,
	}, cfg, nil
}

func (s *Service) journalViews(ctx context.Context, scope *cache.Scope, journals []aggregation.ConsortiumJournal) ([]domain.Journal, error) {
	issns := make([]string, len(journals))
	for i, j := range journals {
		issns[i] = j.IssnL
	}
	meta, err := s.directory.LookupMany(ctx, scope, issns)
	if err != nil {
		return nil, err
	}

	views := make([]domain.Journal, len(journals))
	for i, j := range journals {
		m := meta[j.IssnL]
		views[i] = domain.Journal{
			IssnL:              j.IssnL,
			Issns:              m.DisplayIssns(),
			Title:              m.Title,
			Publisher:          m.Publisher,
			Subject:            j.Subject,
			Usage:              j.Usage,
			Cost:               j.Cost,
			IllCost:            j.IllCost,
			Cpu:                cpuValue(j.Cpu),
			CpuRank:            j.CpuRank,
			AuthorshipFraction: j.AuthorshipFraction,
			Downloads:          j.Downloads,
			Citations:          j.Citations,
			Authorships:        j.Authorships,
			Channels:           j.Channels,
			IsHybrid:           j.IsHybrid,
			Subscribed:         j.Subscribed(),
			SubscribedBulk:     j.SubscribedBulk,
			SubscribedCustom:   j.SubscribedCustom,
			NumMembers:         len(j.MemberIDs),
		}
	}
	return views, nil
}

func (s *Service) institutions(ctx context.Context, scope *cache.Scope, scenarioID string) ([]domain.Institution, error) {
	c, err := s.engine.Consortium(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	members, err := s.engine.Members(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	included, err := s.engine.Included(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	records, err := s.engine.Records(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}

	institutionIDs := make([]string, len(members))
	for i, m := range members {
		institutionIDs[i] = m.InstitutionID
	}
	tags, err := cache.Load(ctx, scope, cache.ConsortiumKey(cache.EntityInstitutionTags, c.PackageID), func(ctx context.Context) (map[string][]string, error) {
		return s.consortiumSvc.Tags(ctx, institutionIDs)
	})
	if err != nil {
		return nil, err
	}
	requests, err := s.consortiumSvc.FeedbackRequests(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	feedback := make(map[string]consortiumdomain.FeedbackRequest, len(requests))
	for _, r := range requests {
		feedback[r.MemberPackageID] = r
	}

	type totals struct {
		usage, cost, ill float64
		journals         int
	}
	byMember := make(map[string]*totals, len(members))
	for _, r := range records {
		t := byMember[r.MemberPackageID]
		if t == nil {
			t = &totals{}
			byMember[r.MemberPackageID] = t
		}
		t.usage += r.Usage
		t.cost += r.SubscriptionCost
		t.ill += r.IllCost
		t.journals++
	}

	keep := toSet(included)
	out := make([]domain.Institution, 0, len(members))
	for _, m := range members {
		_, in := keep[m.PackageID]
		t := byMember[m.PackageID]
		if t == nil {
			t = &totals{}
		}
		row := domain.Institution{
			PackageID:            m.PackageID,
			InstitutionID:        m.InstitutionID,
			InstitutionName:      m.InstitutionName,
			InstitutionShortName: m.InstitutionShortName,
			Usage:                t.usage,
			Cost:                 t.cost,
			IllCost:              t.ill,
			NumJournals:          t.journals,
			Tags:                 tags[m.InstitutionID],
			Included:             in,
		}
		if row.Tags == nil {
			row.Tags = []string{}
		}
		if req, ok := feedback[m.PackageID]; ok {
			row.SentDate = req.SentDate
			row.ReturnDate = req.ReturnDate
			row.ChangedDate = s.changedDate(ctx, req)
		}
		out = append(out, row)
	}
	// Busiest members first; equal usage keeps member-list order.
	sort.SliceStable(out, func(a, b int) bool { return out[a].Usage > out[b].Usage })
	return out, nil
}

// changedDate is the member's last save of its feedback copy. A save right
// after the request went out is the copy itself, not a change.
func (s *Service) changedDate(ctx context.Context, req consortiumdomain.FeedbackRequest) *time.Time {
	if req.MemberScenarioID == "" {
		return nil
	}
	cfg, err := s.scenarioSvc.Latest(ctx, req.MemberScenarioID)
	if err != nil {
		s.log.Warn("member scenario unavailable",
			zap.String("member_package_id", req.MemberPackageID),
			zap.String("member_scenario_id", req.MemberScenarioID),
			zap.Error(err),
		)
		return nil
	}
	if cfg.SavedAt.IsZero() {
		return nil
	}
	if req.SentDate != nil && cfg.SavedAt.Sub(*req.SentDate).Abs() < changedGrace {
		return nil
	}
	changed := cfg.SavedAt
	return &changed
}

func cpuValue(cpu float64) *float64 {
	if costmodel.IsUndefined(cpu) {
		return nil
	}
	return &cpu
}

func recordCpu(r computeddomain.JournalMetricRecord) *float64 {
	if r.Cpu != nil && !math.IsInf(*r.Cpu, 0) && !math.IsNaN(*r.Cpu) {
		cpu := *r.Cpu
		return &cpu
	}
	return cpuValue(costmodel.CostPerUse(r.SubscriptionCost, r.Usage))
}

func institutionCode(r computeddomain.JournalMetricRecord) string {
	name := r.InstitutionShortName
	if name == "" {
		name = r.InstitutionName
	}
	if name == "" {
		name = r.MemberPackageID
	}
	return slug.Make(name)
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, computeddomain.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", computeddomain.ErrStorageUnavailable, err)
}
