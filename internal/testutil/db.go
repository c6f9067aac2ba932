package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/db"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/migrations"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

// NewTestDB creates a migrated SQLite database in a temporary directory.
// The connection is closed when the test finishes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "reconciler.db")}
	dbConfig.ApplyDefaults()

	require.NoError(t, migrations.RunMigrations(dbConfig))

	database, err := db.NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	t.Cleanup(func() { _ = database.Close() })

	return database
}

// FailInsertsFor installs a trigger that aborts any ledger insert for txHash,
// simulating a database failure on that event.
func FailInsertsFor(t *testing.T, database *sql.DB, txHash string) {
	t.Helper()

	_, err := database.Exec(`
		CREATE TRIGGER fail_ledger_insert BEFORE INSERT ON unmatched_payments
		WHEN NEW.tx_hash = '` + txHash + `'
		BEGIN
			SELECT RAISE(ABORT, 'simulated failure');
		END`)
	require.NoError(t, err)
}
