package db

import (
	"strings"
	"testing"

	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "oracle"})
	require.Error(t, err)
}

func TestDialectNames(t *testing.T) {
	for _, dbType := range []string{"postgres", "PostgreSQL", "mysql", "sqlite"} {
		d, err := Dialect(config.Config{DBType: dbType, DBName: "bigdeal"})
		require.NoError(t, err, dbType)
		assert.NotEmpty(t, d.Name(), dbType)
	}
}

func TestPostgresDSNCarriesApplicationName(t *testing.T) {
	dsn := postgresDSN(config.Config{DBHost: "db", DBPort: "5432", DBName: "bigdeal", DBSSLMode: "disable", AppName: "bigdeal-worker"})
	assert.True(t, strings.HasPrefix(dsn, "host=db port=5432"))
	assert.Contains(t, dsn, "application_name=bigdeal-worker")
	assert.Contains(t, dsn, "TimeZone=UTC")
}

func TestSQLiteDSNDefaults(t *testing.T) {
	assert.Equal(t, "bigdeal.db?_busy_timeout=5000&_foreign_keys=on", sqliteDSN(config.Config{}))
	assert.Equal(t, "file::memory:?cache=shared", sqliteDSN(config.Config{DBName: "file::memory:?cache=shared"}))
}

func TestMySQLDSN(t *testing.T) {
	dsn := mysqlDSN(config.Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "3306", DBName: "bigdeal"})
	assert.Equal(t, "u:p@tcp(h:3306)/bigdeal?charset=utf8mb4&loc=UTC&parseTime=True", dsn)
}
