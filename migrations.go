package dispatch

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationFiles contains all SQL migration files embedded in the binary.
// ApplyMigrations uses them directly; they are exported so deployments with
// their own migration tooling can apply them instead.
//
//go:embed migrations/*.sql
var MigrationFiles embed.FS

// ApplyMigrations applies the embedded schema migrations to db. driver
// must be "mysql", "postgres" or "sqlite3". Running against an up-to-date
// schema is a no-op.
func ApplyMigrations(db *sql.DB, driver string) error {
	source, err := iofs.New(MigrationFiles, "migrations")
	if err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to load embedded migrations", err)
	}

	var dbDriver database.Driver
	switch driver {
	case "mysql":
		dbDriver, err = mysql.WithInstance(db, &mysql.Config{})
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite3":
		dbDriver, err = sqlite3.WithInstance(db, &sqlite3.Config{})
	default:
		return NewError(ErrCodeConfiguration, fmt.Sprintf("unsupported migration driver %q", driver))
	}
	if err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to create migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, dbDriver)
	if err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to create migrator", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return NewErrorWithCause(ErrCodeDatabase, "migration failed", err)
	}
	return nil
}
