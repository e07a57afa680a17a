package store

import (
	"database/sql"
	"embed"

	"emperror.dev/errors"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsPath        = "migrations"
	migrationsTable       = "schema_migrations"
	schemaVersionBase     = 1
	schemaVersionSweepIDs = 2
	schemaVersionG2Values = 3
	// SchemaVersion is the version Open migrates to.
	SchemaVersion = schemaVersionG2Values
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func migrateDB(db *sql.DB) error {
	if db == nil {
		return errors.New("migrate: nil db")
	}
	sourceDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return errors.Wrap(err, "migrate: init source")
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return errors.Wrap(err, "migrate: init db driver")
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return errors.Wrap(err, "migrate: init migrator")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate: up")
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	var dirty bool
	err := db.QueryRow("SELECT version, dirty FROM "+migrationsTable+" LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return 0, errors.Wrap(err, "read schema version")
	}
	if dirty {
		return version, errors.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}
