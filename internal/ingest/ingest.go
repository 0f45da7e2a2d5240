// Package ingest is the hook the data-ingestion collaborator calls after it
// loads new raw data for a package.
package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/cache"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidPackage = errors.New("invalid_package_id")

var Module = fx.Module("ingest",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Log           *zap.Logger
	ConsortiumSvc consortiumdomain.Service
	Cache         *cache.Store `optional:"true"`
}

type Notifier struct {
	log           *zap.Logger
	consortiumSvc consortiumdomain.Service
	cache         *cache.Store
}

func New(p Params) *Notifier {
	return &Notifier{
		log:           p.Log.Named("ingest.notifier"),
		consortiumSvc: p.ConsortiumSvc,
		cache:         p.Cache,
	}
}

// NotifyPackageIngested drops every cached value derived from the package:
// its own entries, the consortium entries when it is a consortium package,
// and the scenarios it is a member of. It returns the affected scenario ids.
func (n *Notifier) NotifyPackageIngested(ctx context.Context, packageID string) ([]string, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil, ErrInvalidPackage
	}

	n.cache.InvalidatePackage(ctx, packageID, cache.TriggerPackageIngested)
	n.cache.InvalidateConsortium(ctx, packageID, cache.TriggerPackageIngested)

	scenarios, err := n.consortiumSvc.ScenariosForMember(ctx, packageID)
	if err != nil {
		return nil, err
	}
	for _, scenarioID := range scenarios {
		n.cache.InvalidateScenario(ctx, scenarioID, cache.TriggerPackageIngested)
	}

	n.log.Info("package ingested",
		zap.String("package_id", packageID),
		zap.Int("scenarios", len(scenarios)),
	)
	if scenarios == nil {
		scenarios = []string{}
	}
	return scenarios, nil
}
