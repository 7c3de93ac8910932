package observability

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/canonica-labs/querio/internal/storage"
)

func entryAt(id string, ts time.Time) AdviceLogEntry {
	return AdviceLogEntry{
		AdviceID:      id,
		StatementType: "SELECT",
		Tables:        []string{"users"},
		Issues:        []string{"SELECT * fetches unnecessary columns (slow and risky)."},
		Rules:         []string{"wildcard-projection"},
		PlanStatus:    "not_consulted",
		Duration:      2 * time.Millisecond,
		Timestamp:     ts,
	}
}

func TestAdviceLogEntryValidate(t *testing.T) {
	valid := entryAt("a1", time.Now())
	require.NoError(t, valid.Validate())

	missingID := valid
	missingID.AdviceID = ""
	assert.Error(t, missingID.Validate())

	missingStatus := valid
	missingStatus.PlanStatus = ""
	assert.Error(t, missingStatus.Validate())

	negative := valid
	negative.Duration = -time.Second
	assert.Error(t, negative.Validate())
}

func TestSummarizeCountsAndWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := entryAt("old", now.Add(-48*time.Hour))
	invalid := entryAt("bad", now.Add(-time.Minute))
	invalid.Invalid = true
	invalid.Tables = nil
	invalid.Issues = []string{"Invalid SQL query"}
	failed := entryAt("f", now.Add(-time.Minute))
	failed.PlanStatus = "failed"
	available := entryAt("ok", now)
	available.PlanStatus = "available"
	available.Tables = []string{"users", "orders"}

	summary := Summarize([]AdviceLogEntry{old, invalid, failed, available}, now.Add(-24*time.Hour))

	assert.Equal(t, 3, summary.TotalAdvice)
	assert.Equal(t, 1, summary.InvalidQueries)
	assert.Equal(t, 1, summary.PlanFailed)
	assert.Equal(t, 1, summary.PlanAvailable)
	require.NotEmpty(t, summary.TopTables)
	assert.Equal(t, TableStat{Table: "users", Count: 2}, summary.TopTables[0])
	assert.Equal(t, IssueStat{Issue: "SELECT * fetches unnecessary columns (slow and risky).", Count: 2}, summary.TopIssues[0])
}

func TestSummarizeKeepsTopFive(t *testing.T) {
	now := time.Now()
	var entries []AdviceLogEntry
	for i := 0; i < 8; i++ {
		e := entryAt(fmt.Sprintf("id-%d", i), now)
		e.Tables = []string{fmt.Sprintf("t%d", i)}
		entries = append(entries, e)
	}

	summary := Summarize(entries, now.Add(-time.Hour))
	assert.Len(t, summary.TopTables, 5)
	assert.Equal(t, "t0", summary.TopTables[0].Table)
}

func TestZapAuditLoggerWritesStructuredLine(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	audit := NewZapAuditLogger(zap.New(core))

	require.NoError(t, audit.LogAdvice(context.Background(), entryAt("a1", time.Now())))

	require.Equal(t, 1, logs.Len())
	line := logs.All()[0]
	assert.Equal(t, "advice", line.Message)
	assert.Equal(t, "audit", line.LoggerName)
	assert.Equal(t, "a1", line.ContextMap()["advice_id"])
	assert.Equal(t, "not_consulted", line.ContextMap()["plan_status"])

	summary, err := audit.Summary(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalAdvice)
}

func TestZapAuditLoggerRejectsInvalidEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	audit := NewZapAuditLogger(zap.New(core))

	err := audit.LogAdvice(context.Background(), AdviceLogEntry{PlanStatus: "failed"})
	assert.Error(t, err)
	assert.Zero(t, logs.Len())
}

func TestZapAuditLoggerHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewZapAuditLogger(nil).LogAdvice(ctx, entryAt("a1", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoopLogger(t *testing.T) {
	l := NewNoopLogger()
	require.NoError(t, l.LogAdvice(context.Background(), AdviceLogEntry{}))

	summary, err := l.Summary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalAdvice)
	assert.NotNil(t, summary.TopIssues)
	assert.NotNil(t, summary.TopTables)
}

func TestPersistentLoggerRequiresDatabase(t *testing.T) {
	_, err := NewPersistentLogger(nil, storage.Dialect{Driver: storage.DriverSQLite})
	assert.Error(t, err)
}

func TestPersistentLoggerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	audit, err := NewPersistentLoggerWithMirror(store.DB, store.Dialect, zap.New(core))
	require.NoError(t, err)

	now := time.Now()
	failed := entryAt("p2", now)
	failed.PlanStatus = "failed"
	failed.PlanSource = "postgres"
	require.NoError(t, audit.LogAdvice(ctx, entryAt("p1", now.Add(-72*time.Hour))))
	require.NoError(t, audit.LogAdvice(ctx, failed))
	assert.Equal(t, 2, logs.Len())

	summary, err := audit.Summary(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalAdvice)
	assert.Equal(t, 1, summary.PlanFailed)
	assert.Equal(t, []TableStat{{Table: "users", Count: 1}}, summary.TopTables)

	var source string
	require.NoError(t, store.DB.QueryRow(`SELECT plan_source FROM advice_audit WHERE advice_id = ?`, "p2").Scan(&source))
	assert.Equal(t, "postgres", source)
}

func TestOpenAuditLoggerDisabled(t *testing.T) {
	audit, closer, err := OpenAuditLogger(context.Background(), AuditSettings{}, zap.NewNop())
	require.NoError(t, err)
	defer closer.Close()

	_, ok := audit.(*ZapAuditLogger)
	assert.True(t, ok)
}

func TestOpenAuditLoggerPersistent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	audit, closer, err := OpenAuditLogger(context.Background(),
		AuditSettings{Enabled: true, Driver: storage.DriverSQLite, DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	defer closer.Close()

	require.NoError(t, audit.LogAdvice(context.Background(), entryAt("p1", time.Now())))
	summary, err := audit.Summary(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalAdvice)
}

func TestOpenAuditLoggerBadDriver(t *testing.T) {
	_, _, err := OpenAuditLogger(context.Background(),
		AuditSettings{Enabled: true, Driver: "oracle", DSN: "x"}, nil)
	assert.Error(t, err)
}
