package migration

import (
	"context"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/smallbiznis/bigdeal/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBMigrate {
			return nil
		}
		if !strings.EqualFold(cfg.DBType, "postgres") {
			log.Warn("skipping migrations for non-postgres database", zap.String("db_type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.SeedDemo && !cfg.IsProduction() {
			return seed.EnsureDemoConsortium(context.Background(), conn)
		}
		return nil
	}),
)
