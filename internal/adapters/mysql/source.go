// Package mysql provides the MySQL plan source.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/canonica-labs/querio/internal/adapters"
)

const (
	// DriverName is the database/sql driver registered by go-sql-driver.
	DriverName = "mysql"

	fullTableScan  = "ALL"
	errNoSuchTable = 1146
	queryBlock     = "query_block"
	tableMember    = "table"
)

// Source asks MySQL for EXPLAIN FORMAT=JSON plans.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a MySQL plan source for dsn.
func New(dsn string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: dsn, opts: adapters.ApplyOptions(opts...)}
}

// DSN builds a go-sql-driver DSN over TCP.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("mysql: host is not configured")
	}
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg := gomysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
	cfg.DBName = p.Database
	if p.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN(), nil
}

// Name returns the engine name.
func (s *Source) Name() string {
	return "mysql"
}

// ExplainPlan returns the query block for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var text string
	err := adapters.Explain(ctx, s.opts.Opener, DriverName, s.dsn, adapters.TxReadOnly, func(q adapters.Queryer) error {
		var qerr error
		text, qerr = adapters.QueryText(ctx, q, "EXPLAIN FORMAT=JSON "+query)
		return qerr
	})
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, noSuchTable)
	}

	plan, err := ParsePlan(text)
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, nil)
	}
	return plan, nil
}

// Ping checks if MySQL is reachable.
func (s *Source) Ping(ctx context.Context) error {
	err := adapters.WithConnection(s.opts.Opener, DriverName, s.dsn, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
	return adapters.Classify(s.Name(), err, nil)
}

// ParsePlan decodes EXPLAIN FORMAT=JSON output. The top node is the
// query_block; a single-table block carries the access type directly and
// joins nest tables under nested_loop.
func ParsePlan(text string) (*adapters.Plan, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	block, ok := doc[queryBlock].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode plan: missing query_block")
	}

	plan := &adapters.Plan{
		Source:   "mysql",
		NodeType: queryBlock,
		Raw:      block,
	}
	if table, ok := block[tableMember].(map[string]any); ok {
		access := adapters.StringField(table, "access_type")
		plan.NodeType = access
		plan.FullScan = access == fullTableScan
	} else if loops, ok := block["nested_loop"].([]any); ok {
		plan.NodeType = "nested_loop"
		for _, l := range loops {
			entry, _ := l.(map[string]any)
			table, _ := entry[tableMember].(map[string]any)
			if adapters.StringField(table, "access_type") == fullTableScan {
				plan.FullScan = true
			}
		}
	}
	if costInfo, ok := block["cost_info"].(map[string]any); ok {
		if cost, ok := adapters.ToFloat(costInfo["query_cost"]); ok {
			plan.TotalCost = cost
			plan.HasCost = true
		}
	}
	return plan, nil
}

func noSuchTable(err error) (string, bool) {
	var myErr *gomysql.MySQLError
	if !stderrors.As(err, &myErr) || myErr.Number != errNoSuchTable {
		return "", false
	}
	return adapters.QuotedName(myErr.Message), true
}
