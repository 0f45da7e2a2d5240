package aggregation

import (
	"context"
	"fmt"

	"github.com/smallbiznis/bigdeal/internal/cache"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/observability/tracing"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("aggregation",
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Records       computeddomain.Repository
	ScenarioSvc   scenariodomain.Service
	ConsortiumSvc consortiumdomain.Service
	Cache         *cache.Store `optional:"true"`
}

// Engine reads the current generation of a scenario and derives the values
// every dashboard view is built from. Each accessor goes through the caller's
// scope so a value is loaded once per view.
type Engine struct {
	db            *gorm.DB
	log           *zap.Logger
	records       computeddomain.Repository
	scenarioSvc   scenariodomain.Service
	consortiumSvc consortiumdomain.Service
	cache         *cache.Store
}

func New(p Params) *Engine {
	return &Engine{
		db:            p.DB,
		log:           p.Log.Named("aggregation.engine"),
		records:       p.Records,
		scenarioSvc:   p.ScenarioSvc,
		consortiumSvc: p.ConsortiumSvc,
		cache:         p.Cache,
	}
}

// NewScope starts one view construction.
func (e *Engine) NewScope() *cache.Scope {
	return cache.NewScope(e.cache)
}

func (e *Engine) Consortium(ctx context.Context, scope *cache.Scope, scenarioID string) (consortiumdomain.Consortium, error) {
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityConsortium, scenarioID), func(ctx context.Context) (consortiumdomain.Consortium, error) {
		return e.consortiumSvc.Get(ctx, scenarioID)
	})
}

func (e *Engine) Members(ctx context.Context, scope *cache.Scope, scenarioID string) ([]consortiumdomain.MemberPackage, error) {
	c, err := e.Consortium(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	return cache.Load(ctx, scope, cache.ConsortiumKey(cache.EntityMemberList, c.PackageID), func(ctx context.Context) ([]consortiumdomain.MemberPackage, error) {
		return e.consortiumSvc.Members(ctx, c)
	})
}

// Included is the member inclusion set of the scenario. A scenario that never
// saved one includes every member.
func (e *Engine) Included(ctx context.Context, scope *cache.Scope, scenarioID string) ([]string, error) {
	c, err := e.Consortium(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityIncludedMembers, scenarioID), func(ctx context.Context) ([]string, error) {
		return e.consortiumSvc.IncludedMembers(ctx, c)
	})
}

func (e *Engine) BigDealCost(ctx context.Context, scope *cache.Scope, scenarioID string) (float64, error) {
	included, err := e.Included(ctx, scope, scenarioID)
	if err != nil {
		return 0, err
	}
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityBigDealCost, scenarioID), func(ctx context.Context) (float64, error) {
		return e.consortiumSvc.BigDealCostForIncluded(ctx, included)
	})
}

// SavedConfig is the latest saved configuration with the big deal cost
// replaced by the included members' total.
func (e *Engine) SavedConfig(ctx context.Context, scope *cache.Scope, scenarioID string) (scenariodomain.ScenarioConfig, error) {
	cost, err := e.BigDealCost(ctx, scope, scenarioID)
	if err != nil {
		return scenariodomain.ScenarioConfig{}, err
	}
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityScenarioConfig, scenarioID), func(ctx context.Context) (scenariodomain.ScenarioConfig, error) {
		cfg, err := e.scenarioSvc.Latest(ctx, scenarioID)
		if err != nil {
			return scenariodomain.ScenarioConfig{}, err
		}
		return cfg.WithBigDealCost(cost), nil
	})
}

// Records is the scenario's current generation ordered by (issn_l,
// member_package_id).
func (e *Engine) Records(ctx context.Context, scope *cache.Scope, scenarioID string) ([]computeddomain.JournalMetricRecord, error) {
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityRecords, scenarioID), func(ctx context.Context) ([]computeddomain.JournalMetricRecord, error) {
		records, err := e.records.ReadRecords(ctx, e.db, scenarioID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", computeddomain.ErrStorageUnavailable, err)
		}
		return records, nil
	})
}

// Journals aggregates the scenario over its saved inclusion set. The
// returned slice is shared; callers copy before reordering.
func (e *Engine) Journals(ctx context.Context, scope *cache.Scope, scenarioID string) ([]ConsortiumJournal, error) {
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityJournals, scenarioID), func(ctx context.Context) ([]ConsortiumJournal, error) {
		included, err := e.Included(ctx, scope, scenarioID)
		if err != nil {
			return nil, err
		}
		return e.Aggregate(ctx, scope, scenarioID, included)
	})
}

// Aggregate ranks the scenario's journals over an explicit inclusion set.
func (e *Engine) Aggregate(ctx context.Context, scope *cache.Scope, scenarioID string, included []string) (journals []ConsortiumJournal, err error) {
	ctx, span := tracing.Start(ctx, "aggregation.aggregate",
		attribute.String("scenario_id", scenarioID),
		attribute.Int("included_members", len(included)),
	)
	defer func() { tracing.End(span, err) }()

	records, err := e.Records(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.SavedConfig(ctx, scope, scenarioID)
	if err != nil {
		return nil, err
	}
	journals = Aggregate(records, included, cfg)
	e.log.Debug("aggregated scenario",
		zap.String("scenario_id", scenarioID),
		zap.Int("records", len(records)),
		zap.Int("journals", len(journals)),
	)
	return journals, nil
}
