package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/canonica-labs/querio/internal/storage"
)

// PersistentLogger stores audit entries in the advice_audit table.
type PersistentLogger struct {
	db      *sql.DB
	dialect storage.Dialect
	mirror  *zap.Logger
}

// NewPersistentLogger creates a logger persisting to db.
func NewPersistentLogger(db *sql.DB, dialect storage.Dialect) (*PersistentLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("observability: database connection is required for persistent logging")
	}
	return &PersistentLogger{db: db, dialect: dialect}, nil
}

// NewPersistentLoggerWithMirror also writes each entry through logger.
func NewPersistentLoggerWithMirror(db *sql.DB, dialect storage.Dialect, logger *zap.Logger) (*PersistentLogger, error) {
	l, err := NewPersistentLogger(db, dialect)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		l.mirror = logger.Named("audit")
	}
	return l, nil
}

// LogAdvice inserts entry.
func (l *PersistentLogger) LogAdvice(ctx context.Context, entry AdviceLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	tablesJSON := jsonList(entry.Tables)
	issuesJSON := jsonList(entry.Issues)
	rulesJSON := jsonList(entry.Rules)

	p := l.dialect.Placeholder
	query := fmt.Sprintf(`
		INSERT INTO advice_audit (
			advice_id, statement_type, tables_json, issues_json, rules_json,
			plan_source, plan_status, invalid, duration_us, created_at_ms
		) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		p(1), p(2), p(3), p(4), p(5), p(6), p(7), p(8), p(9), p(10))

	_, err := l.db.ExecContext(ctx, query,
		entry.AdviceID,
		entry.StatementType,
		tablesJSON,
		issuesJSON,
		rulesJSON,
		nullableString(entry.PlanSource),
		entry.PlanStatus,
		entry.Invalid,
		entry.Duration.Microseconds(),
		entry.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("observability: failed to persist audit entry: %w", err)
	}

	if l.mirror != nil {
		l.mirror.Info("advice",
			zap.String("advice_id", entry.AdviceID),
			zap.String("plan_status", entry.PlanStatus),
			zap.Strings("rules", entry.Rules),
		)
	}
	return nil
}

// Summary aggregates the stored entries recorded at or after since.
func (l *PersistentLogger) Summary(ctx context.Context, since time.Time) (*AuditSummary, error) {
	since = since.Truncate(time.Millisecond)
	query := fmt.Sprintf(`
		SELECT tables_json, issues_json, plan_status, invalid, created_at_ms
		FROM advice_audit
		WHERE created_at_ms >= %s`, l.dialect.Placeholder(1))

	rows, err := l.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("observability: failed to read audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AdviceLogEntry
	for rows.Next() {
		var (
			tablesJSON, issuesJSON string
			entry                  AdviceLogEntry
			createdAt              int64
		)
		if err := rows.Scan(&tablesJSON, &issuesJSON, &entry.PlanStatus, &entry.Invalid, &createdAt); err != nil {
			return nil, fmt.Errorf("observability: failed to scan audit entry: %w", err)
		}
		// Malformed lists count as empty.
		_ = json.Unmarshal([]byte(tablesJSON), &entry.Tables)
		_ = json.Unmarshal([]byte(issuesJSON), &entry.Issues)
		entry.Timestamp = time.UnixMilli(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("observability: failed to read audit entries: %w", err)
	}
	return Summarize(entries, since), nil
}

func jsonList(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// nullableString converts empty strings to nil for SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
