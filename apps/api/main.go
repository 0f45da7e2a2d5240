package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bigdeal/internal/aggregation"
	"github.com/smallbiznis/bigdeal/internal/apc"
	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/clock"
	"github.com/smallbiznis/bigdeal/internal/computed"
	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/smallbiznis/bigdeal/internal/consortium"
	"github.com/smallbiznis/bigdeal/internal/dashboard"
	"github.com/smallbiznis/bigdeal/internal/ingest"
	"github.com/smallbiznis/bigdeal/internal/journalmeta"
	"github.com/smallbiznis/bigdeal/internal/livescenario"
	"github.com/smallbiznis/bigdeal/internal/member"
	"github.com/smallbiznis/bigdeal/internal/observability"
	"github.com/smallbiznis/bigdeal/internal/ratelimit"
	"github.com/smallbiznis/bigdeal/internal/recompute"
	"github.com/smallbiznis/bigdeal/internal/scenario"
	"github.com/smallbiznis/bigdeal/internal/server"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		cache.Module,

		// Enqueue lives here; the worker runs the jobs.
		computed.Module,
		consortium.Module,
		scenario.Module,
		livescenario.Module,
		member.Module,
		recompute.Module,

		// Dashboard views
		aggregation.Module,
		apc.Module,
		journalmeta.Module,
		dashboard.Module,
		ingest.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) *snowflake.Node {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		panic(err)
	}
	return node
}
