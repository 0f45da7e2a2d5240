package apc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/cache"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/smallbiznis/bigdeal/internal/costmodel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("apc.service",
	fx.Provide(New),
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Engine *config.EngineConfigHolder
	Cache  *cache.Store `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	engine *config.EngineConfigHolder
	cache  *cache.Store
}

func New(p Params) *Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("apc.service"),
		engine: p.Engine,
		cache:  p.Cache,
	}
}

// Window is the configured APC reference period.
func (s *Service) Window() costmodel.Window {
	cfg := s.engine.Get()
	return costmodel.Window{StartYear: cfg.ApcStartYear, Years: cfg.ApcYears}
}

// Rows returns the APC rows of the given member packages.
func (s *Service) Rows(ctx context.Context, packageIDs []string) ([]Row, error) {
	if len(packageIDs) == 0 {
		return nil, nil
	}
	var rows []Row
	if err := s.db.WithContext(ctx).
		Where("package_id IN ?", packageIDs).
		Order("issn_l ASC, year ASC, package_id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", computeddomain.ErrStorageUnavailable, err)
	}
	return rows, nil
}

// Journals is the scenario's APC rollup over its included members.
func (s *Service) Journals(ctx context.Context, scope *cache.Scope, scenarioID string, included []string) ([]ApcJournal, error) {
	variant := memberVariant(included)
	return cache.Load(ctx, scope, cache.ScenarioKey(cache.EntityApcJournals, scenarioID, variant), func(ctx context.Context) ([]ApcJournal, error) {
		rows, err := s.memberRows(ctx, scope, included)
		if err != nil {
			return nil, err
		}
		journals := BuildAll(rows, s.Window())
		s.log.Debug("apc rollup built",
			zap.String("scenario_id", scenarioID),
			zap.Int("rows", len(rows)),
			zap.Int("journals", len(journals)),
		)
		return journals, nil
	})
}

// memberRows gathers APC rows one package at a time so an ingest of a
// single package drops only that package's rows.
func (s *Service) memberRows(ctx context.Context, scope *cache.Scope, packageIDs []string) ([]Row, error) {
	var rows []Row
	for _, id := range packageIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		part, err := cache.Load(ctx, scope, cache.PackageKey(cache.EntityApcRows, id), func(ctx context.Context) ([]Row, error) {
			return s.Rows(ctx, []string{id})
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

func memberVariant(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
