// Package postgres provides the PostgreSQL plan source.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/lib/pq"

	"github.com/canonica-labs/querio/internal/adapters"
)

const (
	// DriverName is the database/sql driver registered by lib/pq.
	DriverName = "postgres"

	seqScan          = "Seq Scan"
	undefinedTableSQ = "42P01"
)

// Source asks PostgreSQL for EXPLAIN (FORMAT JSON) plans.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a PostgreSQL plan source for dsn.
func New(dsn string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: dsn, opts: adapters.ApplyOptions(opts...)}
}

// DSN builds a postgres:// URL. sslmode defaults to disable.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("postgres: host is not configured")
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     p.Host + ":" + strconv.Itoa(port),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String(), nil
}

// Name returns the engine name.
func (s *Source) Name() string {
	return "postgres"
}

// ExplainPlan returns the top plan node for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var text string
	err := adapters.Explain(ctx, s.opts.Opener, DriverName, s.dsn, adapters.TxReadOnly, func(q adapters.Queryer) error {
		var qerr error
		text, qerr = adapters.QueryText(ctx, q, "EXPLAIN (FORMAT JSON) "+query)
		return qerr
	})
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, undefinedTable)
	}

	plan, err := ParsePlan(text)
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, nil)
	}
	return plan, nil
}

// Ping checks if PostgreSQL is reachable.
func (s *Source) Ping(ctx context.Context) error {
	err := adapters.WithConnection(s.opts.Opener, DriverName, s.dsn, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
	return adapters.Classify(s.Name(), err, nil)
}

// ParsePlan decodes EXPLAIN (FORMAT JSON) output: a one-element array whose
// "Plan" member is the top node.
func ParsePlan(text string) (*adapters.Plan, error) {
	var doc []map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("decode plan: empty plan document")
	}
	top, ok := doc[0]["Plan"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode plan: missing top-level Plan node")
	}

	nodeType := adapters.StringField(top, "Node Type")
	plan := &adapters.Plan{
		Source:   "postgres",
		NodeType: nodeType,
		FullScan: nodeType == seqScan,
		Raw:      top,
	}
	if cost, ok := adapters.ToFloat(top["Total Cost"]); ok {
		plan.TotalCost = cost
		plan.HasCost = true
	}
	return plan, nil
}

func undefinedTable(err error) (string, bool) {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) || pqErr.Code != undefinedTableSQ {
		return "", false
	}
	return adapters.QuotedName(pqErr.Message), true
}
