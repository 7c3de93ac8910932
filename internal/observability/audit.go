package observability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AdviceLogEntry is the audit record of one evaluation.
type AdviceLogEntry struct {
	// AdviceID is the identifier returned with the diagnosis.
	AdviceID string

	// StatementType is the classified statement type, UNKNOWN when invalid.
	StatementType string

	// Tables are the table sources named by the query, as written.
	Tables []string

	Issues      []string
	Suggestions []string

	// Rules are the tags of the checks that fired, in order.
	Rules []string

	// PlanSource is the engine consulted, empty when none was.
	PlanSource string

	// PlanStatus is not_consulted, failed or available.
	PlanStatus string

	// Invalid is set when the query held no recognizable statement.
	Invalid bool

	// Duration is the evaluation time. Must be non-negative.
	Duration time.Duration

	Timestamp time.Time
}

// Validate checks that all required fields are present.
func (e *AdviceLogEntry) Validate() error {
	if e.AdviceID == "" {
		return fmt.Errorf("observability: advice_id is required")
	}
	if e.PlanStatus == "" {
		return fmt.Errorf("observability: plan_status is required")
	}
	if e.Duration < 0 {
		return fmt.Errorf("observability: duration cannot be negative")
	}
	return nil
}

// AdviceLogger records evaluations and reports on them.
type AdviceLogger interface {
	// LogAdvice records one evaluation.
	LogAdvice(ctx context.Context, entry AdviceLogEntry) error

	// Summary aggregates the entries recorded at or after since.
	Summary(ctx context.Context, since time.Time) (*AuditSummary, error)
}

// AuditSummary holds aggregate counts only, never query text.
type AuditSummary struct {
	Since          time.Time   `json:"since" yaml:"since"`
	TotalAdvice    int         `json:"total_advice" yaml:"total_advice"`
	InvalidQueries int         `json:"invalid_queries" yaml:"invalid_queries"`
	PlanAvailable  int         `json:"plan_available" yaml:"plan_available"`
	PlanFailed     int         `json:"plan_failed" yaml:"plan_failed"`
	TopIssues      []IssueStat `json:"top_issues" yaml:"top_issues"`
	TopTables      []TableStat `json:"top_tables" yaml:"top_tables"`
}

// IssueStat counts one issue text.
type IssueStat struct {
	Issue string `json:"issue" yaml:"issue"`
	Count int    `json:"count" yaml:"count"`
}

// TableStat counts one table.
type TableStat struct {
	Table string `json:"table" yaml:"table"`
	Count int    `json:"count" yaml:"count"`
}

// topN is the length of the top-issue and top-table lists.
const topN = 5

// Summarize aggregates entries recorded at or after since.
func Summarize(entries []AdviceLogEntry, since time.Time) *AuditSummary {
	summary := &AuditSummary{
		Since:     since.UTC(),
		TopIssues: []IssueStat{},
		TopTables: []TableStat{},
	}

	issues := make(map[string]int)
	tables := make(map[string]int)
	for _, entry := range entries {
		if entry.Timestamp.Before(since) {
			continue
		}
		summary.TotalAdvice++
		if entry.Invalid {
			summary.InvalidQueries++
		}
		switch entry.PlanStatus {
		case "available":
			summary.PlanAvailable++
		case "failed":
			summary.PlanFailed++
		}
		for _, issue := range entry.Issues {
			issues[issue]++
		}
		for _, table := range entry.Tables {
			tables[table]++
		}
	}

	for issue, count := range issues {
		summary.TopIssues = append(summary.TopIssues, IssueStat{Issue: issue, Count: count})
	}
	sort.Slice(summary.TopIssues, func(i, j int) bool {
		a, b := summary.TopIssues[i], summary.TopIssues[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Issue < b.Issue
	})
	if len(summary.TopIssues) > topN {
		summary.TopIssues = summary.TopIssues[:topN]
	}

	for table, count := range tables {
		summary.TopTables = append(summary.TopTables, TableStat{Table: table, Count: count})
	}
	sort.Slice(summary.TopTables, func(i, j int) bool {
		a, b := summary.TopTables[i], summary.TopTables[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Table < b.Table
	})
	if len(summary.TopTables) > topN {
		summary.TopTables = summary.TopTables[:topN]
	}

	return summary
}

// ZapAuditLogger writes each entry as a structured log line and keeps the
// entries in memory for summaries.
type ZapAuditLogger struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	entries []AdviceLogEntry
}

// NewZapAuditLogger creates an audit logger writing through logger.
func NewZapAuditLogger(logger *zap.Logger) *ZapAuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapAuditLogger{logger: logger.Named("audit")}
}

// LogAdvice validates and logs entry.
func (l *ZapAuditLogger) LogAdvice(ctx context.Context, entry AdviceLogEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("observability: context error: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	tables := entry.Tables
	if tables == nil {
		tables = []string{}
	}
	l.logger.Info("advice",
		zap.String("advice_id", entry.AdviceID),
		zap.String("statement_type", entry.StatementType),
		zap.Strings("tables", tables),
		zap.Strings("rules", entry.Rules),
		zap.Int("issues", len(entry.Issues)),
		zap.Int("suggestions", len(entry.Suggestions)),
		zap.String("plan_source", entry.PlanSource),
		zap.String("plan_status", entry.PlanStatus),
		zap.Bool("invalid", entry.Invalid),
		zap.Duration("duration", entry.Duration),
	)

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// Summary aggregates the in-memory entries.
func (l *ZapAuditLogger) Summary(_ context.Context, since time.Time) (*AuditSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Summarize(l.entries, since), nil
}

// NoopLogger discards all entries.
type NoopLogger struct{}

// NewNoopLogger creates a new no-op logger.
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// LogAdvice does nothing and always succeeds.
func (l *NoopLogger) LogAdvice(context.Context, AdviceLogEntry) error {
	return nil
}

// Summary returns an empty summary.
func (l *NoopLogger) Summary(_ context.Context, since time.Time) (*AuditSummary, error) {
	return Summarize(nil, since), nil
}
