package storage

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	qerrors "github.com/canonica-labs/querio/internal/errors"
)

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    VARCHAR(255) PRIMARY KEY,
	applied_at BIGINT NOT NULL
)`

// migration is one NNNNNN_name.up.sql file.
type migration struct {
	version string
	name    string
	body    string
}

// Migrate applies every migration in fsys not yet recorded in
// schema_migrations, in version order, one transaction each. It returns
// the names it applied.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, fsys fs.FS) ([]string, error) {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	all, err := loadMigrations(fsys)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range all {
		if done[m.version] {
			continue
		}
		if err := apply(ctx, db, dialect, m); err != nil {
			return applied, qerrors.NewMigrationFailed(m.name, err)
		}
		applied = append(applied, m.name)
	}
	return applied, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}

	list := make([]migration, 0, len(names))
	for _, file := range names {
		version, _, ok := strings.Cut(file, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: name must start with a version and an underscore", file)
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		list = append(list, migration{
			version: version,
			name:    strings.TrimSuffix(file, ".up.sql"),
			body:    string(body),
		})
	}
	slices.SortFunc(list, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return list, nil
}

func apply(ctx context.Context, db *sql.DB, dialect Dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.body); err != nil {
		return err
	}
	record := fmt.Sprintf(`INSERT INTO schema_migrations (version, applied_at) VALUES (%s, %s)`,
		dialect.Placeholder(1), dialect.Placeholder(2))
	if _, err := tx.ExecContext(ctx, record, m.version, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}
