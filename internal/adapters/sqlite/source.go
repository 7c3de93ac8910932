// Package sqlite provides the SQLite plan source, backed by the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/canonica-labs/querio/internal/adapters"

	_ "modernc.org/sqlite" // registers "sqlite"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Source asks SQLite for EXPLAIN QUERY PLAN output. SQLite reports no cost.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a SQLite plan source for a database file or DSN.
func New(dsn string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: dsn, opts: adapters.ApplyOptions(opts...)}
}

// DSN returns the database path. An empty path means an in-memory
// database.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Database == "" {
		return ":memory:", nil
	}
	return p.Database, nil
}

// Name returns the engine name.
func (s *Source) Name() string {
	return "sqlite"
}

// Step is one row of EXPLAIN QUERY PLAN.
type Step struct {
	ID     int64
	Parent int64
	Detail string
}

// ExplainPlan returns the first plan step for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var steps []Step
	err := adapters.Explain(ctx, s.opts.Opener, DriverName, s.dsn, adapters.TxReadOnly, func(q adapters.Queryer) error {
		var qerr error
		steps, qerr = queryPlan(ctx, q, query)
		return qerr
	})
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, adapters.MessageMatcher("no such table"))
	}
	plan, err := BuildPlan(steps)
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

func queryPlan(ctx context.Context, q adapters.Queryer, query string) ([]Step, error) {
	rows, err := q.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			step    Step
			notused int64
		)
		if err := rows.Scan(&step.ID, &step.Parent, &notused, &step.Detail); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// BuildPlan turns plan steps into a Plan. The first step is the top node
// and a step detail starting with SCAN is a full table scan.
func BuildPlan(steps []Step) (*adapters.Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("decode plan: no plan rows returned")
	}
	top := steps[0]
	nodeType, _, _ := strings.Cut(top.Detail, " ")

	details := make([]any, 0, len(steps))
	for _, step := range steps {
		details = append(details, step.Detail)
	}
	return &adapters.Plan{
		Source:   "sqlite",
		NodeType: nodeType,
		FullScan: nodeType == "SCAN",
		Raw: map[string]any{
			"detail": top.Detail,
			"steps":  details,
		},
	}, nil
}
