// Package advisor produces query advice: it runs the structural checks over
// a parsed query, rewrites the recognised anti-patterns and, when asked,
// enriches the result with the plan a live engine reports.
package advisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
	qsql "github.com/canonica-labs/querio/internal/sql"
)

// DefaultPlanTimeout bounds one plan enrichment round trip.
const DefaultPlanTimeout = 5 * time.Second

var (
	errNoPlanSource   = stderrors.New("no plan source configured")
	errMultiStatement = stderrors.New("multi-statement input")
)

// Advisor evaluates SQL queries. It holds no per-call state and is safe for
// concurrent use.
type Advisor struct {
	parser      *qsql.Parser
	rewriter    *qsql.Rewriter
	logger      *zap.Logger
	audit       observability.AdviceLogger
	planTimeout time.Duration
	newID       func() string
	now         func() time.Time
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Advisor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuditLogger sets where finished diagnoses are recorded.
func WithAuditLogger(audit observability.AdviceLogger) Option {
	return func(a *Advisor) {
		if audit != nil {
			a.audit = audit
		}
	}
}

// WithPlanTimeout bounds plan enrichment. Non-positive values keep the
// default.
func WithPlanTimeout(d time.Duration) Option {
	return func(a *Advisor) {
		if d > 0 {
			a.planTimeout = d
		}
	}
}

// WithRewriter replaces the default rewrite rule table.
func WithRewriter(r *qsql.Rewriter) Option {
	return func(a *Advisor) {
		if r != nil {
			a.rewriter = r
		}
	}
}

// New creates an advisor.
func New(opts ...Option) *Advisor {
	a := &Advisor{
		parser:      qsql.NewParser(),
		rewriter:    qsql.NewRewriter(),
		logger:      zap.NewNop(),
		audit:       observability.NewNoopLogger(),
		planTimeout: DefaultPlanTimeout,
		newID:       uuid.NewString,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PlanTimeout returns the enrichment deadline.
func (a *Advisor) PlanTimeout() time.Duration {
	return a.planTimeout
}

// Evaluate returns the diagnosis for query. Input that holds no statement
// yields the invalid-query diagnosis and nothing else runs. When enrich is
// false source is never touched; when it is true every plan failure is
// reported in ExplainPlan and never returned.
func (a *Advisor) Evaluate(ctx context.Context, query string, enrich bool, source adapters.PlanSource) *Diagnosis {
	start := a.now()
	d := newDiagnosis(a.newID(), query)

	inspection, err := a.parser.Parse(query)
	if err != nil {
		d.Invalid = true
		d.StatementType = qsql.StatementUnknown
		d.addIssue(IssueInvalidQuery)
		a.logger.Debug("query rejected",
			zap.String("advice_id", d.ID),
			zap.String("reason", errors.Summarize(err)),
		)
		a.record(ctx, d, nil, start)
		return d
	}

	d.StatementType = inspection.StatementType
	d.Tables = inspection.Tables
	for _, c := range structuralChecks {
		c.run(inspection, d)
	}
	d.OptimizedQuery, _ = a.rewriter.Rewrite(query, d.Rules...)

	d.ExplainPlan = a.explain(ctx, query, inspection.StatementCount, enrich, source)
	if d.ExplainPlan.Status == PlanAvailable {
		checkPlan(d.ExplainPlan.Plan, d)
	}

	a.logger.Debug("query evaluated",
		zap.String("advice_id", d.ID),
		zap.String("statement_type", d.StatementType),
		zap.Strings("rules", d.Rules),
		zap.Stringer("plan_status", d.ExplainPlan.Status),
	)
	a.record(ctx, d, source, start)
	return d
}

// explain asks source for the plan of query, bounded by the plan timeout.
// Input holding more than one statement is never sent to the engine.
func (a *Advisor) explain(ctx context.Context, query string, statements int, enabled bool, source adapters.PlanSource) PlanOutcome {
	if !enabled {
		return PlanOutcome{Status: PlanNotConsulted}
	}
	if source == nil {
		return a.planFailed("", errNoPlanSource)
	}
	if statements > 1 {
		return a.planFailed(source.Name(), errMultiStatement)
	}

	ctx, cancel := context.WithTimeout(ctx, a.planTimeout)
	defer cancel()

	plan, err := source.ExplainPlan(ctx, query)
	var timeout *errors.ErrPlanTimeout
	switch {
	case err == nil && plan == nil:
		err = errors.NewPlanSourceUnavailable(source.Name(), fmt.Errorf("engine returned no plan"))
	case err == nil || stderrors.As(err, &timeout):
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		err = errors.NewPlanTimeout(source.Name(), context.DeadlineExceeded)
	case ctx.Err() != nil:
		err = errors.NewPlanSourceUnavailable(source.Name(), ctx.Err())
	}
	if err != nil {
		return a.planFailed(source.Name(), err)
	}
	return PlanOutcome{Status: PlanAvailable, Plan: plan}
}

func (a *Advisor) planFailed(source string, err error) PlanOutcome {
	a.logger.Warn("plan enrichment skipped",
		zap.String("source", source),
		zap.Error(err),
	)
	return PlanOutcome{
		Status: PlanFailed,
		Reason: errors.Summarize(err),
		Err:    err,
	}
}

// record hands the diagnosis to the audit logger. Audit failures are logged
// and never change the diagnosis.
func (a *Advisor) record(ctx context.Context, d *Diagnosis, source adapters.PlanSource, start time.Time) {
	entry := observability.AdviceLogEntry{
		AdviceID:      d.ID,
		StatementType: d.StatementType,
		Tables:        d.Tables,
		Issues:        d.Issues,
		Suggestions:   d.Suggestions,
		Rules:         d.Rules,
		PlanStatus:    d.ExplainPlan.Status.String(),
		Invalid:       d.Invalid,
		Duration:      a.now().Sub(start),
		Timestamp:     start.UTC(),
	}
	if source != nil && d.ExplainPlan.Status != PlanNotConsulted {
		entry.PlanSource = source.Name()
	}
	if err := a.audit.LogAdvice(ctx, entry); err != nil {
		a.logger.Warn("audit write failed",
			zap.String("advice_id", d.ID),
			zap.Error(err),
		)
	}
}
