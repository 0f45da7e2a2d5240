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
	"github.com/smallbiznis/bigdeal/internal/migration"
	"github.com/smallbiznis/bigdeal/internal/observability"
	"github.com/smallbiznis/bigdeal/internal/ratelimit"
	"github.com/smallbiznis/bigdeal/internal/recompute"
	"github.com/smallbiznis/bigdeal/internal/scenario"
	"github.com/smallbiznis/bigdeal/internal/scheduler"
	"github.com/smallbiznis/bigdeal/internal/server"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"go.uber.org/fx"
)

// Single process serving the dashboard API and draining the recompute queue.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		cache.Module,

		// Functional Domains
		computed.Module,
		consortium.Module,
		scenario.Module,
		livescenario.Module,
		member.Module,
		recompute.Module,
		aggregation.Module,
		apc.Module,
		journalmeta.Module,
		dashboard.Module,
		ingest.Module,

		server.Module,
		scheduler.Module,
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
