// Package duckdb provides the DuckDB plan source.
// DuckDB is the default engine for local development.
package duckdb

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/canonica-labs/querio/internal/adapters"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// DriverName is the database/sql driver registered by go-duckdb.
const DriverName = "duckdb"

// scanOperators are the physical operators that read a whole table.
var scanOperators = map[string]bool{
	"SEQ_SCAN":   true,
	"TABLE_SCAN": true,
}

// Source asks DuckDB for its physical plan. DuckDB renders plans as a box
// tree and reports no cost.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a DuckDB plan source. An empty path means an in-memory
// database.
func New(path string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: path, opts: adapters.ApplyOptions(opts...)}
}

// DSN returns the database path. An empty path means an in-memory
// database.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Database == "" {
		return "", nil
	}
	return p.Database, nil
}

// Name returns the engine name.
func (s *Source) Name() string {
	return "duckdb"
}

// ExplainPlan returns the root operator of the physical plan for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var text string
	err := adapters.Explain(ctx, s.opts.Opener, DriverName, s.dsn, adapters.TxRollback, func(q adapters.Queryer) error {
		var qerr error
		text, qerr = physicalPlan(ctx, q, query)
		return qerr
	})
	if err != nil {
		return nil, adapters.Classify(s.Name(), err,
			adapters.MessageMatcher("does not exist"))
	}
	plan, err := ParsePlan(text)
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, nil)
	}
	return plan, nil
}

// Ping checks if the database can be opened.
func (s *Source) Ping(ctx context.Context) error {
	err := adapters.WithConnection(s.opts.Opener, DriverName, s.dsn, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
	return adapters.Classify(s.Name(), err, nil)
}

// physicalPlan runs EXPLAIN and returns the physical_plan rendering.
// Rows are (explain_key, explain_value).
func physicalPlan(ctx context.Context, q adapters.Queryer, query string) (string, error) {
	rows, err := q.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var plan string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return "", err
		}
		if plan == "" || key == "physical_plan" {
			plan = value
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if plan == "" {
		return "", fmt.Errorf("no plan rows returned")
	}
	return plan, nil
}

// ParsePlan reads the operator names out of a rendered plan tree. The
// first operator is the root.
func ParsePlan(text string) (*adapters.Plan, error) {
	operators := operatorNames(text)
	if len(operators) == 0 {
		return nil, fmt.Errorf("decode plan: no operators found")
	}

	ops := make([]any, 0, len(operators))
	fullScan := false
	for _, op := range operators {
		ops = append(ops, op)
		if scanOperators[op] {
			fullScan = true
		}
	}
	return &adapters.Plan{
		Source:   "duckdb",
		NodeType: operators[0],
		FullScan: fullScan,
		Raw: map[string]any{
			"operator":  operators[0],
			"operators": ops,
			"plan":      text,
		},
	}, nil
}

// operatorNames returns the upper-case operator names found in box cells,
// top to bottom, left to right.
func operatorNames(text string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		for _, cell := range strings.Split(sc.Text(), "│") {
			cell = strings.TrimSpace(cell)
			if isOperatorName(cell) {
				names = append(names, cell)
			}
		}
	}
	return names
}

func isOperatorName(s string) bool {
	if len(s) < 2 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}
