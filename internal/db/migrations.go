package db

import (
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

const (
	UpDownSeparator     = "-- +migrate Up"
	downMarker          = "-- +migrate Down"
	NoLimitMigrations   = 0 // indicate that there is no limit on the number of migrations to run
	migrationDirections = 2
)

// Migration is a single embedded SQL migration. SQL holds the Down section first,
// then the Up section after the "-- +migrate Up" separator.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations opens the database described by cfg and applies all pending migrations.
func RunMigrations(cfg config.DatabaseConfig, migrations []Migration, log *logger.Logger) error {
	db, err := NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	defer db.Close()

	return RunMigrationsDB(log, db, migrations)
}

func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrationsParam []Migration) error {
	return RunMigrationsDBExtended(log, db, migrationsParam, migrate.Up, NoLimitMigrations)
}

// RunMigrationsDBExtended is an extended version of RunMigrationsDB that allows
// dir: can be migrate.Up or migrate.Down
// maxMigrations: Will apply at most `max` migrations. Pass 0 for no limit
func RunMigrationsDBExtended(log *logger.Logger,
	db *sql.DB,
	migrationsParam []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int) error {
	migs, err := buildMigrationSource(migrationsParam)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(migs.Migrations))
	for _, m := range migs.Migrations {
		ids = append(ids, m.Id)
	}
	list := strings.Join(ids, ", ")

	log.Debugf("running migrations: (max %d/%d) migrations: %s", maxMigrations, len(ids), list)

	nMigrations, err := migrate.ExecMax(db, "sqlite3", migs, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migration (max %d/%d) migrations: %s . Err: %w",
			maxMigrations, len(ids), list, err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", nMigrations, list)
	return nil
}

func buildMigrationSource(migrations []Migration) (*migrate.MemoryMigrationSource, error) {
	migs := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}

	for _, m := range migrations {
		splitted := strings.Split(m.SQL, UpDownSeparator)
		if len(splitted) < migrationDirections {
			return nil, fmt.Errorf("migration %s missing '%s' separator", m.ID, UpDownSeparator)
		}

		downSQL := splitted[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = downSQL[idx+len(downMarker):]
		}

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(splitted[1])},
			Down: []string{strings.TrimSpace(downSQL)},
		})
	}

	return migs, nil
}
