package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/wjz5788/leverageguard-attestor-sub002/internal/db"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

//go:embed 001_chain_cursor.sql
var mig001 string

//go:embed 002_orders.sql
var mig002 string

//go:embed 003_unmatched_payments.sql
var mig003 string

// All returns the reconciler schema migrations in order.
func All() []db.Migration {
	return []db.Migration{
		{ID: "001_chain_cursor.sql", SQL: mig001},
		{ID: "002_orders.sql", SQL: mig002},
		{ID: "003_unmatched_payments.sql", SQL: mig003},
	}
}

// RunMigrations brings the database described by dbConfig up to date.
func RunMigrations(dbConfig config.DatabaseConfig) error {
	return db.RunMigrations(dbConfig, All(), logger.GetDefaultLogger())
}

// RunMigrationsDB brings an already opened database up to date.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, All())
}
