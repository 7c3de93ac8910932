package advisor

import (
	"fmt"
	"strings"

	"github.com/canonica-labs/querio/internal/adapters"
	qsql "github.com/canonica-labs/querio/internal/sql"
)

// Advice text. The wording is part of the output contract.
const (
	IssueInvalidQuery = "Invalid SQL query"

	IssueWildcard        = "SELECT * fetches unnecessary columns (slow and risky)."
	SuggestWildcard      = "Replace with specific columns, e.g., SELECT id, name FROM table."
	IssueArithmetic      = "Expressions in WHERE (e.g., age + 1) prevent index usage."
	SuggestArithmetic    = "Simplify to direct column comparisons, e.g., age > 29."
	SuggestAgeIndex      = "Add an index: CREATE INDEX idx_age ON users(age);"
	SuggestAddFilter     = "Consider adding a WHERE clause to filter data early."
	IssueRedundantJoin   = "Possible redundant JOIN: Joining the same table multiple times."
	SuggestRedundantJoin = "Review the JOINs and drop any that repeat a table, or alias each use explicitly."

	IssueSeqScan    = "Query uses a sequential scan (slow for large tables)."
	SuggestSeqScan  = "Add an index on the columns used in the WHERE clause."
	issueHighCost   = "High query cost: %.2f"
	SuggestHighCost = "Optimize filters or add indexes to reduce cost."
)

// HighCostThreshold is the plan cost above which a query is reported as
// expensive.
const HighCostThreshold = 1000.0

// Tags of the checks that do not drive a rewrite.
const (
	TagMissingFilter = "missing-filter"
	TagAgeIndex      = "age-index"
	TagRedundantJoin = "redundant-join"
	TagFullScan      = "full-scan"
	TagHighCost      = "high-cost"
)

// check inspects a parsed query and appends to the diagnosis.
type check struct {
	name string
	run  func(in *qsql.Inspection, d *Diagnosis)
}

// structuralChecks run in this order; issues and suggestions keep it.
var structuralChecks = []check{
	{name: "wildcard", run: checkWildcard},
	{name: "filter", run: checkFilter},
	{name: "age-index", run: checkAgeIndex},
	{name: "redundant-join", run: checkRedundantJoin},
}

func checkWildcard(in *qsql.Inspection, d *Diagnosis) {
	if !in.IsSelect() || !qsql.HasWildcardProjection(in.Statement) {
		return
	}
	d.addIssue(IssueWildcard)
	d.addSuggestion(SuggestWildcard)
	d.fire(qsql.TagWildcard)
}

func checkFilter(in *qsql.Inspection, d *Diagnosis) {
	if !in.HasFilter() {
		d.addSuggestion(SuggestAddFilter)
		d.fire(TagMissingFilter)
		return
	}
	filter := strings.ToLower(in.FilterText())
	if strings.ContainsAny(filter, "+-") {
		d.addIssue(IssueArithmetic)
		d.addSuggestion(SuggestArithmetic)
		d.fire(qsql.TagArithmetic)
	}
}

func checkAgeIndex(in *qsql.Inspection, d *Diagnosis) {
	if strings.Contains(strings.ToLower(in.FilterText()), "age") {
		d.addSuggestion(SuggestAgeIndex)
		d.fire(TagAgeIndex)
	}
}

// checkRedundantJoin compares the JOIN count with the distinct sources as
// written. Names differing only in case or quoting count as distinct.
func checkRedundantJoin(in *qsql.Inspection, d *Diagnosis) {
	if in.JoinCount > 0 && len(in.Tables) < in.JoinCount+1 {
		d.addIssue(IssueRedundantJoin)
		d.addSuggestion(SuggestRedundantJoin)
		d.fire(TagRedundantJoin)
	}
}

// checkPlan reads the top plan node. It never touches OptimizedQuery.
func checkPlan(plan *adapters.Plan, d *Diagnosis) {
	if plan.FullScan {
		d.addIssue(IssueSeqScan)
		d.addSuggestion(SuggestSeqScan)
		d.fire(TagFullScan)
	}
	if plan.HasCost && plan.TotalCost > HighCostThreshold {
		d.addIssue(fmt.Sprintf(issueHighCost, plan.TotalCost))
		d.addSuggestion(SuggestHighCost)
		d.fire(TagHighCost)
	}
}
