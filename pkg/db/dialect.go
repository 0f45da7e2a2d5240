package db

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "bigdeal.db"

// Dialect picks the gorm driver for cfg.DBType. Postgres is the production
// store; mysql and sqlite serve local runs.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "postgresql":
		return postgres.Open(postgresDSN(cfg)), nil
	case "mysql":
		return mysql.Open(mysqlDSN(cfg)), nil
	case "sqlite":
		return sqlite.Open(sqliteDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
}

func postgresDSN(cfg config.Config) string {
	parts := []string{
		"host=" + cfg.DBHost,
		"port=" + cfg.DBPort,
		"user=" + cfg.DBUser,
		"password=" + cfg.DBPassword,
		"dbname=" + cfg.DBName,
		"sslmode=" + cfg.DBSSLMode,
		"TimeZone=UTC",
	}
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		parts = append(parts, "application_name="+name)
	}
	return strings.Join(parts, " ")
}

func mysqlDSN(cfg config.Config) string {
	params := url.Values{}
	params.Set("charset", "utf8mb4")
	params.Set("parseTime", "True")
	params.Set("loc", "UTC")
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, params.Encode())
}

// sqliteDSN waits on a locked file instead of failing, since the worker and
// the API may share it.
func sqliteDSN(cfg config.Config) string {
	name := strings.TrimSpace(cfg.DBName)
	if name == "" {
		name = defaultSQLiteFile
	}
	if strings.Contains(name, "?") {
		return name
	}
	return name + "?_busy_timeout=5000&_foreign_keys=on"
}
