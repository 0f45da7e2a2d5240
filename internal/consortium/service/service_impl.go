package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/clock"
	"github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Cache *cache.Store `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
	cache *cache.Store
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("consortium.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) Get(ctx context.Context, scenarioID string) (domain.Consortium, error) {
	scenarioID = strings.TrimSpace(scenarioID)
	if scenarioID == "" {
		return domain.Consortium{}, domain.ErrInvalidScenario
	}
	c, err := s.repo.FindByScenario(ctx, s.db, scenarioID)
	if err != nil {
		return domain.Consortium{}, err
	}
	if c == nil {
		return domain.Consortium{}, domain.ErrConsortiumNotFound
	}
	return *c, nil
}

func (s *Service) Members(ctx context.Context, c domain.Consortium) ([]domain.MemberPackage, error) {
	return s.repo.ListMembers(ctx, s.db, c.PackageID)
}

func (s *Service) IncludedMembers(ctx context.Context, c domain.Consortium) ([]string, error) {
	included, err := s.repo.LatestIncludedMembers(ctx, s.db, c.ScenarioID)
	if err != nil {
		return nil, err
	}
	if included != nil {
		return included, nil
	}

	members, err := s.Members(ctx, c)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.PackageID)
	}
	return ids, nil
}

// SetIncludedMembers saves a new member selection. Excluded members keep their
// computed records; exclusion only filters reads.
func (s *Service) SetIncludedMembers(ctx context.Context, scenarioID string, memberPackageIDs []string) ([]string, error) {
	c, err := s.Get(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	members, err := s.Members(ctx, c)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(members))
	for _, m := range members {
		known[m.PackageID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(memberPackageIDs))
	ids := make([]string, 0, len(memberPackageIDs))
	for _, raw := range memberPackageIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := known[id]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMember, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	row := domain.IncludedMembers{
		ID:         s.genID.Generate(),
		ScenarioID: c.ScenarioID,
		Members:    datatypes.JSON(payload),
		UpdatedAt:  s.clock.Now(),
	}
	if err := s.repo.InsertIncludedMembers(ctx, s.db, &row); err != nil {
		return nil, err
	}

	s.cache.InvalidateScenario(ctx, c.ScenarioID, cache.TriggerMembersChanged)
	s.log.Info("included members saved",
		zap.String("scenario_id", c.ScenarioID),
		zap.Int("included", len(ids)),
		zap.Int("members", len(members)),
	)
	return ids, nil
}

// BigDealCostForIncluded sums the big deal costs of the included packages.
func (s *Service) BigDealCostForIncluded(ctx context.Context, included []string) (float64, error) {
	rows, err := s.repo.BigDealCosts(ctx, s.db, included)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, row := range rows {
		total += row.BigDealCost
	}
	return total, nil
}

func (s *Service) Tags(ctx context.Context, institutionIDs []string) (map[string][]string, error) {
	return s.repo.InstitutionTags(ctx, s.db, institutionIDs)
}

func (s *Service) FeedbackRequests(ctx context.Context, scenarioID string) ([]domain.FeedbackRequest, error) {
	return s.repo.FeedbackRequests(ctx, s.db, strings.TrimSpace(scenarioID))
}

func (s *Service) ScenariosForMember(ctx context.Context, memberPackageID string) ([]string, error) {
	return s.repo.ScenariosForMember(ctx, s.db, strings.TrimSpace(memberPackageID))
}
