// Package snowflake provides the Snowflake plan source.
package snowflake

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"github.com/canonica-labs/querio/internal/adapters"
)

const (
	// DriverName is the database/sql driver registered by gosnowflake.
	DriverName = "snowflake"

	errObjectDoesNotExist = 2003
)

// Source asks Snowflake for EXPLAIN USING JSON plans.
type Source struct {
	dsn  string
	opts adapters.Options
}

// New creates a Snowflake plan source for dsn.
func New(dsn string, opts ...adapters.Option) adapters.PlanSource {
	return &Source{dsn: dsn, opts: adapters.ApplyOptions(opts...)}
}

// DSN builds a gosnowflake DSN. Host is the account identifier; warehouse,
// schema and role come from Extra.
func DSN(p adapters.ConnParams) (string, error) {
	if p.Host == "" {
		return "", fmt.Errorf("snowflake: account is required")
	}
	if p.User == "" {
		return "", fmt.Errorf("snowflake: user is required")
	}
	if p.Extra["warehouse"] == "" {
		return "", fmt.Errorf("snowflake: warehouse is required")
	}
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   p.Host,
		User:      p.User,
		Password:  p.Password,
		Database:  p.Database,
		Schema:    p.Extra["schema"],
		Warehouse: p.Extra["warehouse"],
		Role:      p.Extra["role"],
	})
}

// Name returns the adapter name.
func (s *Source) Name() string {
	return "snowflake"
}

// ExplainPlan returns the first operation of the plan for query.
func (s *Source) ExplainPlan(ctx context.Context, query string) (*adapters.Plan, error) {
	var text string
	err := adapters.Explain(ctx, s.opts.Opener, DriverName, s.dsn, adapters.TxRollback, func(q adapters.Queryer) error {
		var qerr error
		text, qerr = adapters.QueryText(ctx, q, "EXPLAIN USING JSON "+query)
		return qerr
	})
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, objectNotFound)
	}
	plan, err := ParsePlan(text)
	if err != nil {
		return nil, adapters.Classify(s.Name(), err, nil)
	}
	return plan, nil
}

// Ping checks if Snowflake is reachable.
func (s *Source) Ping(ctx context.Context) error {
	err := adapters.WithConnection(s.opts.Opener, DriverName, s.dsn, func(db *sql.DB) error {
		return db.PingContext(ctx)
	})
	return adapters.Classify(s.Name(), err, nil)
}

// ParsePlan decodes EXPLAIN USING JSON output:
//
//	{"GlobalStats": {...}, "Operations": [[{"id": 0, "operation": "Result"}, ...]]}
//
// A TableScan is a full scan when pruning left every partition assigned.
func ParsePlan(text string) (*adapters.Plan, error) {
	var doc struct {
		GlobalStats map[string]any     `json:"GlobalStats"`
		Operations  [][]map[string]any `json:"Operations"`
	}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(doc.Operations) == 0 || len(doc.Operations[0]) == 0 {
		return nil, fmt.Errorf("decode plan: no operations")
	}

	top := doc.Operations[0][0]
	raw := make(map[string]any, len(top)+1)
	for k, v := range top {
		raw[k] = v
	}
	raw["GlobalStats"] = doc.GlobalStats

	total, _ := adapters.ToFloat(doc.GlobalStats["partitionsTotal"])
	assigned, _ := adapters.ToFloat(doc.GlobalStats["partitionsAssigned"])
	unpruned := total > 0 && assigned >= total

	fullScan := false
	for _, op := range doc.Operations[0] {
		if adapters.StringField(op, "operation") == "TableScan" && unpruned {
			fullScan = true
		}
	}
	return &adapters.Plan{
		Source:   "snowflake",
		NodeType: adapters.StringField(top, "operation"),
		FullScan: fullScan,
		Raw:      raw,
	}, nil
}

func objectNotFound(err error) (string, bool) {
	var sfErr *gosnowflake.SnowflakeError
	if stderrors.As(err, &sfErr) && sfErr.Number == errObjectDoesNotExist {
		return adapters.QuotedName(sfErr.Message), true
	}
	if strings.Contains(strings.ToLower(err.Error()), "does not exist or not authorized") {
		return adapters.QuotedName(err.Error()), true
	}
	return "", false
}
