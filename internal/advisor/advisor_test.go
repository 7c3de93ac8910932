package advisor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/errors"
	"github.com/canonica-labs/querio/internal/observability"
)

// fakeSource is a PlanSource returning a canned plan or error.
type fakeSource struct {
	plan  *adapters.Plan
	err   error
	delay    time.Duration
	calls    atomic.Int32
	finished atomic.Bool
	query    string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	f.calls.Add(1)
	f.query = query
	defer f.finished.Store(true)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.plan, f.err
}

func (f *fakeSource) Ping(context.Context) error { return f.err }

func evaluate(query string) *Diagnosis {
	return New().Evaluate(context.Background(), query, false, nil)
}

func TestEvaluateInvalidInput(t *testing.T) {
	inputs := []string{"", "   ", ";", "-- just a comment", "123 + 4", "'text'"}
	for _, q := range inputs {
		t.Run(q, func(t *testing.T) {
			src := &fakeSource{plan: &adapters.Plan{NodeType: "Seq Scan", FullScan: true}}
			d := New().Evaluate(context.Background(), q, true, src)

			assert.True(t, d.Invalid)
			assert.Equal(t, q, d.OptimizedQuery)
			assert.Equal(t, []string{IssueInvalidQuery}, d.Issues)
			assert.Equal(t, []string{}, d.Suggestions)
			assert.Equal(t, PlanNotAvailable, d.ExplainPlan.String())
			assert.Zero(t, src.calls.Load())
		})
	}
}

func TestEvaluateWildcardWithArithmetic(t *testing.T) {
	d := evaluate("SELECT * FROM users WHERE age + 1 > 30")

	assert.Equal(t, []string{IssueWildcard, IssueArithmetic}, d.Issues)
	assert.Equal(t, []string{SuggestWildcard, SuggestArithmetic, SuggestAgeIndex}, d.Suggestions)
	assert.Equal(t, "SELECT id, name FROM users WHERE age > 29", d.OptimizedQuery)
	assert.Equal(t, PlanNotAvailable, d.ExplainPlan.String())
}

func TestEvaluateWildcardRewritesFirstOccurrenceOnly(t *testing.T) {
	q := "select  * from t where id in (SELECT * FROM u)"
	d := evaluate(q)

	assert.Contains(t, d.Issues, IssueWildcard)
	assert.Equal(t, "SELECT id, name from t where id in (SELECT * FROM u)", d.OptimizedQuery)
}

func TestEvaluateMissingFilter(t *testing.T) {
	d := evaluate("SELECT name FROM users")

	assert.Empty(t, d.Issues)
	assert.Equal(t, []string{SuggestAddFilter}, d.Suggestions)
	assert.Equal(t, "SELECT name FROM users", d.OptimizedQuery)
	assert.Equal(t, PlanNotAvailable, d.ExplainPlan.String())
}

func TestEvaluateArithmeticLiteralRewrite(t *testing.T) {
	d := evaluate("SELECT name FROM users WHERE age + 1 > 30")

	assert.Equal(t, []string{IssueArithmetic}, d.Issues)
	assert.Contains(t, d.OptimizedQuery, "age > 29")
}

func TestEvaluateAgeDecrementQuirk(t *testing.T) {
	d := evaluate("SELECT name FROM users WHERE age - 1 < 18")

	assert.Equal(t, []string{IssueArithmetic}, d.Issues)
	assert.Equal(t, "SELECT name FROM users WHERE age < 18", d.OptimizedQuery)
}

func TestEvaluateUnrecognisedArithmeticIsFlaggedNotRewritten(t *testing.T) {
	q := "SELECT name FROM accounts WHERE balance * 2 - fee > 100"
	d := evaluate(q)

	assert.Equal(t, []string{IssueArithmetic}, d.Issues)
	assert.Equal(t, []string{SuggestArithmetic}, d.Suggestions)
	assert.Equal(t, q, d.OptimizedQuery)
}

func TestEvaluateAgeIndexIsIndependentOfArithmetic(t *testing.T) {
	d := evaluate("SELECT name FROM users WHERE AGE > 30")

	assert.Empty(t, d.Issues)
	assert.Equal(t, []string{SuggestAgeIndex}, d.Suggestions)
}

func TestEvaluateAgeIndexSeesFilterComments(t *testing.T) {
	d := evaluate("SELECT name FROM users WHERE name = 'x' -- age")

	assert.Empty(t, d.Issues)
	assert.Equal(t, []string{SuggestAgeIndex}, d.Suggestions)
}

func TestEvaluateIsIdempotentOnOptimizedQuery(t *testing.T) {
	first := evaluate("SELECT * FROM users WHERE age + 1 > 30")
	second := evaluate(first.OptimizedQuery)

	assert.Equal(t, "SELECT id, name FROM users WHERE age > 29", first.OptimizedQuery)
	assert.NotContains(t, second.Issues, IssueWildcard)
	assert.NotContains(t, second.Issues, IssueArithmetic)
	assert.Equal(t, first.OptimizedQuery, second.OptimizedQuery)
}

func TestEvaluateWildcardOnlyForSelect(t *testing.T) {
	d := evaluate("INSERT INTO archive SELECT * FROM users WHERE id = 1")

	assert.NotContains(t, d.Issues, IssueWildcard)
	assert.Equal(t, "INSERT INTO archive SELECT * FROM users WHERE id = 1", d.OptimizedQuery)
}

func TestEvaluateRedundantJoin(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		redundant bool
	}{
		{"self join", "SELECT a.id FROM users a JOIN users b ON a.id = b.id WHERE a.id = 1", true},
		{"distinct tables", "SELECT u.id FROM users u JOIN orders o ON u.id = o.user_id WHERE u.id = 1", false},
		{"three way with repeat", "SELECT 1 FROM a JOIN b ON a.x = b.x JOIN a ON a.y = b.y WHERE a.x = 1", true},
		{"no joins", "SELECT id FROM users WHERE id = 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := evaluate(tt.query)
			if tt.redundant {
				assert.Contains(t, d.Issues, IssueRedundantJoin)
				assert.Contains(t, d.Suggestions, SuggestRedundantJoin)
				assert.Contains(t, d.Rules, TagRedundantJoin)
			} else {
				assert.NotContains(t, d.Issues, IssueRedundantJoin)
			}
		})
	}
}

func TestEvaluateCheckOrder(t *testing.T) {
	d := evaluate("SELECT * FROM users u JOIN users v ON u.id = v.id WHERE u.age - 1 > 3")

	assert.Equal(t, []string{IssueWildcard, IssueArithmetic, IssueRedundantJoin}, d.Issues)
	assert.Equal(t, []string{SuggestWildcard, SuggestArithmetic, SuggestAgeIndex, SuggestRedundantJoin}, d.Suggestions)
	assert.Equal(t, []string{"wildcard-projection", "filter-arithmetic", TagAgeIndex, TagRedundantJoin}, d.Rules)
}

func TestEvaluateDisabledEnrichmentNeverTouchesSource(t *testing.T) {
	src := &fakeSource{plan: &adapters.Plan{NodeType: "Seq Scan", FullScan: true}}
	d := New().Evaluate(context.Background(), "SELECT name FROM users", false, src)

	assert.Zero(t, src.calls.Load())
	assert.Equal(t, PlanNotConsulted, d.ExplainPlan.Status)
	assert.Equal(t, "N/A", d.ExplainPlan.String())
}

func TestEvaluateEnrichmentWithoutSource(t *testing.T) {
	d := New().Evaluate(context.Background(), "SELECT name FROM users", true, nil)

	assert.Equal(t, PlanFailed, d.ExplainPlan.Status)
	assert.Equal(t, "EXPLAIN skipped: no plan source configured", d.ExplainPlan.String())
}

func TestEvaluatePlanFailureLeavesAdviceUnchanged(t *testing.T) {
	query := "SELECT * FROM missing WHERE age + 1 > 30"
	offline := evaluate(query)

	core, logs := observer.New(zapcore.WarnLevel)
	src := &fakeSource{err: errors.NewRelationNotFound("fake", "missing", stderrors.New(`relation "missing" does not exist`))}
	d := New(WithLogger(zap.New(core))).Evaluate(context.Background(), query, true, src)

	assert.Equal(t, PlanFailed, d.ExplainPlan.Status)
	assert.True(t, strings.HasPrefix(d.ExplainPlan.String(), PlanSkipPrefix))
	assert.Contains(t, d.ExplainPlan.String(), `relation "missing" does not exist`)
	assert.Equal(t, offline.Issues, d.Issues)
	assert.Equal(t, offline.Suggestions, d.Suggestions)
	assert.Equal(t, offline.OptimizedQuery, d.OptimizedQuery)
	assert.Equal(t, 1, logs.FilterMessage("plan enrichment skipped").Len())
}

func TestEvaluatePlanTimeout(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	d := New(WithPlanTimeout(20*time.Millisecond)).Evaluate(context.Background(), "SELECT name FROM users", true, src)

	require.Equal(t, PlanFailed, d.ExplainPlan.Status)
	assert.True(t, errors.IsTimeout(d.ExplainPlan.Err))
	assert.Equal(t, "EXPLAIN skipped: fake plan source timed out: no plan received before the deadline", d.ExplainPlan.String())
}

func TestEvaluatePlanTimeoutWaitsForSource(t *testing.T) {
	src := &fakeSource{delay: time.Second}
	d := New(WithPlanTimeout(10*time.Millisecond)).Evaluate(context.Background(), "SELECT name FROM users", true, src)

	assert.True(t, src.finished.Load(), "source call must finish before Evaluate returns")
	assert.Equal(t, int32(1), src.calls.Load())
	assert.True(t, errors.IsTimeout(d.ExplainPlan.Err))
}

func TestEvaluateStackedStatementsNeverReachSource(t *testing.T) {
	queries := []string{
		"SELECT name FROM users; DELETE FROM users",
		"SELECT name FROM users WHERE id = 1; DROP TABLE users;",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			src := &fakeSource{plan: &adapters.Plan{NodeType: "Seq Scan", FullScan: true}}
			d := New().Evaluate(context.Background(), q, true, src)

			assert.Zero(t, src.calls.Load())
			assert.Equal(t, PlanFailed, d.ExplainPlan.Status)
			assert.Equal(t, "EXPLAIN skipped: multi-statement input", d.ExplainPlan.String())
		})
	}
}

func TestEvaluateEmptyPlanIsFailure(t *testing.T) {
	d := New().Evaluate(context.Background(), "SELECT name FROM users", true, &fakeSource{})

	assert.Equal(t, PlanFailed, d.ExplainPlan.Status)
	assert.Contains(t, d.ExplainPlan.String(), "engine returned no plan")
}

func TestEvaluatePlanAvailable(t *testing.T) {
	raw := map[string]any{"Node Type": "Seq Scan", "Total Cost": 1234.5}
	src := &fakeSource{plan: &adapters.Plan{
		Source:    "fake",
		NodeType:  "Seq Scan",
		FullScan:  true,
		TotalCost: 1234.5,
		HasCost:   true,
		Raw:       raw,
	}}
	query := "SELECT name FROM users WHERE id = 7"
	d := New().Evaluate(context.Background(), query, true, src)

	require.Equal(t, PlanAvailable, d.ExplainPlan.Status)
	assert.Equal(t, query, src.query)
	assert.Equal(t, []string{IssueSeqScan, "High query cost: 1234.50"}, d.Issues)
	assert.Equal(t, []string{SuggestSeqScan, SuggestHighCost}, d.Suggestions)
	assert.Equal(t, query, d.OptimizedQuery)
	assert.Equal(t, []string{TagFullScan, TagHighCost}, d.Rules)
}

func TestEvaluateCheapIndexedPlanAddsNothing(t *testing.T) {
	src := &fakeSource{plan: &adapters.Plan{NodeType: "Index Scan", TotalCost: 8.27, HasCost: true, Raw: map[string]any{}}}
	d := New().Evaluate(context.Background(), "SELECT name FROM users WHERE id = 7", true, src)

	assert.Empty(t, d.Issues)
	assert.Empty(t, d.Suggestions)
}

func TestEvaluateCostAtThresholdIsNotHigh(t *testing.T) {
	src := &fakeSource{plan: &adapters.Plan{NodeType: "Hash Join", TotalCost: HighCostThreshold, HasCost: true}}
	d := New().Evaluate(context.Background(), "SELECT name FROM users WHERE id = 7", true, src)

	assert.Empty(t, d.Issues)
}

func TestDiagnosisJSON(t *testing.T) {
	d := evaluate("SELECT name FROM users")
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "SELECT name FROM users", body["query"])
	assert.Equal(t, "SELECT name FROM users", body["optimized_query"])
	assert.Equal(t, []any{}, body["issues"])
	assert.Equal(t, "N/A", body["explain_plan"])
	assert.NotEmpty(t, body["id"])
	assert.NotContains(t, body, "Invalid")
}

func TestPlanOutcomeMarshalsPlanObject(t *testing.T) {
	outcome := PlanOutcome{
		Status: PlanAvailable,
		Plan:   &adapters.Plan{NodeType: "Seq Scan", Raw: map[string]any{"Node Type": "Seq Scan"}},
	}
	data, err := json.Marshal(outcome)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Node Type": "Seq Scan"}`, string(data))
	assert.Equal(t, "Seq Scan", outcome.String())

	out, err := yaml.Marshal(PlanOutcome{Status: PlanFailed, Reason: "boom"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "EXPLAIN skipped: boom")
}

func TestEvaluateRecordsAudit(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	audit := observability.NewZapAuditLogger(zap.New(core))
	a := New(WithAuditLogger(audit))

	valid := a.Evaluate(context.Background(), "SELECT * FROM users", true, &fakeSource{err: stderrors.New("dial tcp: connection refused")})
	a.Evaluate(context.Background(), "", false, nil)

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0].ContextMap()
	assert.Equal(t, valid.ID, first["advice_id"])
	assert.Equal(t, "failed", first["plan_status"])
	assert.Equal(t, "fake", first["plan_source"])

	summary, err := audit.Summary(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalAdvice)
	assert.Equal(t, 1, summary.InvalidQueries)
	assert.Equal(t, 1, summary.PlanFailed)
}

func TestEvaluateAssignsFreshIDs(t *testing.T) {
	a := New()
	first := a.Evaluate(context.Background(), "SELECT 1", false, nil)
	second := a.Evaluate(context.Background(), "SELECT 1", false, nil)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestWithPlanTimeoutIgnoresNonPositive(t *testing.T) {
	assert.Equal(t, DefaultPlanTimeout, New(WithPlanTimeout(0)).PlanTimeout())
	assert.Equal(t, time.Second, New(WithPlanTimeout(time.Second)).PlanTimeout())
}
