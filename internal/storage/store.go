// Package storage opens the advice audit store and keeps its schema current.
// The store is SQLite by default and PostgreSQL when configured.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	qerrors "github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/migrations"

	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported audit store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Dialect covers the few statements that differ between the supported
// drivers.
type Dialect struct {
	Driver string
}

// DialectFor returns the dialect of driver.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return Dialect{Driver: driver}, nil
	default:
		return Dialect{}, qerrors.NewInvalidConfig("audit.driver",
			fmt.Sprintf("unsupported driver %q (use sqlite or postgres)", driver))
	}
}

// Placeholder returns the bind parameter for the n-th argument, 1-based.
func (d Dialect) Placeholder(n int) string {
	if d.Driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Store is an open, migrated audit database.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
}

// Open connects to the audit store, checks it answers and applies pending
// migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, qerrors.NewInvalidConfig("audit.dsn", "must be set when audit is enabled")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer keeps SQLite from reporting SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", driver, err)
	}

	if _, err := Migrate(ctx, db, dialect, migrations.FS); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db, Dialect: dialect}, nil
}

// Ping checks the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
