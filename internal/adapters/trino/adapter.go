// Package trino provides the Trino plan source.
package trino

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/canonica-labs/querio/internal/adapters"

	_ "github.com/trinodb/trino-go-client/trino" // Trino driver
)

// DriverName is the database/sql driver registered by trino-go-client.
const DriverName = "trino"

// Source asks Trino for EXPLAIN (TYPE LOGICAL, FORMAT JSON) plans.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a Trino plan source for dsn.
func New(dsn string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: dsn, opts: adapters.ApplyOptions(opts...)}
}

// DSN builds http[s]://user@host:port?catalog=X&schema=Y. Catalog and
// schema come from Extra and default to memory/default.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("trino: host is not configured")
	}
	user := p.User
	if user == "" {
		user = "querio"
	}
	port := p.Port
	if port == 0 {
		port = 8080
	}
	catalog, schema := p.Extra["catalog"], p.Extra["schema"]
	if catalog == "" {
		catalog = "memory"
	}
	if schema == "" {
		schema = "default"
	}
	scheme := "http"
	if p.SSLMode == "require" {
		scheme = "https"
	}

	u := url.URL{
		Scheme: scheme,
		User:   url.User(user),
		Host:   p.Host + ":" + strconv.Itoa(port),
	}
	q := url.Values{}
	q.Set("catalog", catalog)
	q.Set("schema", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Name returns the engine name.
func (s *Source) Name() string {
	return "trino"
}

// ExplainPlan returns the root node of the logical plan for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var text string
	err := adapters.Explain(ctx, s.opts.Opener, DriverName, s.dsn, adapters.TxNone, func(q adapters.Queryer) error {
		var qerr error
		text, qerr = adapters.QueryText(ctx, q, "EXPLAIN (TYPE LOGICAL, FORMAT JSON) "+query)
		return qerr
	})
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, tableNotFound)
	}
	plan, err := ParsePlan(text)
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, nil)
	}
	return plan, nil
}

// Ping checks if Trino is reachable.
func (s *Source) Ping(ctx context.Context) error {
	err := adapters.WithConnection(s.opts.Opener, DriverName, s.dsn, func(db *sql.DB) error {
		var one int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
	return adapters.Classify(s.Name(), err, nil)
}

// ParsePlan decodes a JSON plan tree. Nodes carry "name", "children" and
// "estimates"; the root's cpuCost is reported as the total cost.
func ParsePlan(text string) (*adapters.Plan, error) {
	var root map[string]any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if _, ok := root["name"]; !ok {
		return nil, fmt.Errorf("decode plan: missing root node name")
	}

	plan := &adapters.Plan{
		Source:   "trino",
		NodeType: adapters.StringField(root, "name"),
		Raw:      root,
	}
	plan.FullScan = adapters.Walk(root, "children", func(node map[string]any) bool {
		return strings.HasPrefix(adapters.StringField(node, "name"), "TableScan")
	})
	if estimates, ok := root["estimates"].([]any); ok && len(estimates) > 0 {
		if first, ok := estimates[0].(map[string]any); ok {
			if cost, ok := adapters.ToFloat(first["cpuCost"]); ok {
				plan.TotalCost = cost
				plan.HasCost = true
			}
		}
	}
	return plan, nil
}

var tableNotFound = adapters.MessageMatcher("table_not_found", "does not exist")
