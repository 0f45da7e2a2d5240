package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(provideStore),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Metrics   *metrics.RecomputeMetrics `optional:"true"`
	Redis     *redis.Client             `optional:"true"`
}

func provideStore(p Params) *Store {
	store := NewStore(p.Log, p.Metrics)
	bus := NewBus(p.Redis, p.Log)
	if bus == nil {
		return store
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := bus.Attach(ctx, store); err != nil {
				p.Log.Warn("cache invalidation bus disabled", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return store
}
