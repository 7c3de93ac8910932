package storage

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/migrations"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := openTestStore(t)

	done, err := appliedVersions(context.Background(), store.DB)
	require.NoError(t, err)
	assert.True(t, done["000001"])

	var count int
	err = store.DB.QueryRow(`SELECT COUNT(*) FROM advice_audit`).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMigrationsRunOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	applied, err := Migrate(ctx, store.DB, store.Dialect, migrations.FS)
	require.NoError(t, err)
	assert.Empty(t, applied)

	var count int
	require.NoError(t, store.DB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrateOrderAndFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"000003_broken.up.sql":      {Data: []byte("CREATE TABLE")},
		"000002_add_notes.up.sql":   {Data: []byte("CREATE TABLE notes (id INTEGER PRIMARY KEY)")},
		"000002_add_notes.down.sql": {Data: []byte("DROP TABLE notes")},
	}

	applied, err := Migrate(ctx, store.DB, store.Dialect, fsys)
	assert.Equal(t, []string{"000002_add_notes"}, applied)

	var failed *qerrors.ErrMigrationFailed
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, err.Error(), "000003_broken")

	done, err := appliedVersions(ctx, store.DB)
	require.NoError(t, err)
	assert.True(t, done["000002"])
	assert.False(t, done["000003"])
}

func TestLoadMigrationsRejectsUnversionedFile(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"init.up.sql": {Data: []byte("SELECT 1")}})
	assert.ErrorContains(t, err, "must start with a version")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")

	var cfgErr *qerrors.ErrInvalidConfig
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "audit.driver", cfgErr.Key)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), DriverSQLite, "")

	var cfgErr *qerrors.ErrInvalidConfig
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "audit.dsn", cfgErr.Key)
}

func TestDialectPlaceholder(t *testing.T) {
	assert.Equal(t, "?", Dialect{Driver: DriverSQLite}.Placeholder(3))
	assert.Equal(t, "$3", Dialect{Driver: DriverPostgres}.Placeholder(3))
}
