// Package redshift provides the Amazon Redshift plan source.
// Redshift speaks the PostgreSQL wire protocol, so lib/pq serves as driver.
package redshift

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/canonica-labs/querio/internal/adapters"
)

const (
	// DriverName is the registry name. Connections go through lib/pq.
	DriverName = "redshift"

	sqlDriver        = "postgres"
	defaultPort      = 5439
	undefinedTableSQ = "42P01"
)

// Source asks Redshift for its text EXPLAIN plan. Redshift has no
// structured plan format.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a Redshift plan source for dsn.
func New(dsn string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: dsn, opts: adapters.ApplyOptions(opts...)}
}

// DSN builds a postgres:// URL for a Redshift cluster. The port defaults
// to 5439 and sslmode to require.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("redshift: host is not configured")
	}
	if p.Database == "" {
		return "", fmt.Errorf("redshift: database is not configured")
	}
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "require"
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
	return "redshift"
}

// ExplainPlan returns the top plan node for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var text string
	err := adapters.Explain(ctx, s.opts.Opener, sqlDriver, s.dsn, adapters.TxReadOnly, func(q adapters.Queryer) error {
		var qerr error
		text, qerr = adapters.QueryText(ctx, q, "EXPLAIN "+query)
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

// Ping checks if the cluster is reachable.
func (s *Source) Ping(ctx context.Context) error {
	err := adapters.WithConnection(s.opts.Opener, sqlDriver, s.dsn, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
	return adapters.Classify(s.Name(), err, nil)
}

// ParsePlan reads the top line of a text plan such as
//
//	XN Seq Scan on users  (cost=0.00..0.05 rows=5 width=4)
//
// The XN prefix marks a step that runs on the compute nodes.
func ParsePlan(text string) (*adapters.Plan, error) {
	line := strings.TrimSpace(firstLine(text))
	line = strings.TrimPrefix(line, "->")
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("decode plan: empty plan")
	}

	head, costs, hasCosts := strings.Cut(line, "(cost=")
	head = strings.TrimSpace(strings.TrimPrefix(head, "XN "))
	nodeType, relation, _ := strings.Cut(head, " on ")
	nodeType = strings.TrimSpace(nodeType)
	if nodeType == "" {
		return nil, fmt.Errorf("decode plan: no node type in %q", line)
	}

	raw := map[string]any{
		"Node Type": nodeType,
		"plan":      text,
	}
	if relation = strings.TrimSpace(relation); relation != "" {
		raw["Relation Name"] = relation
	}

	plan := &adapters.Plan{
		Source:   "redshift",
		NodeType: nodeType,
		FullScan: nodeType == "Seq Scan",
		Raw:      raw,
	}
	if hasCosts {
		if cost, ok := totalCost(costs); ok {
			plan.TotalCost = cost
			plan.HasCost = true
			raw["Total Cost"] = cost
		}
	}
	return plan, nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}

// totalCost reads the upper bound of "0.00..0.05 rows=5 width=4)".
func totalCost(costs string) (float64, bool) {
	_, upper, ok := strings.Cut(costs, "..")
	if !ok {
		return 0, false
	}
	if end := strings.IndexAny(upper, " )"); end >= 0 {
		upper = upper[:end]
	}
	cost, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, false
	}
	return cost, true
}

func undefinedTable(err error) (string, bool) {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) || pqErr.Code != undefinedTableSQ {
		return "", false
	}
	return adapters.QuotedName(pqErr.Message), true
}
