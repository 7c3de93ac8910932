// Package adapters defines the common interface for plan sources: live
// database engines that can report how they would execute a query.
//
// Plan sources are stateless and thin. Every ExplainPlan call acquires its
// own connection, runs a single EXPLAIN inside a transaction that is always
// rolled back, and releases the connection before returning. There are no
// silent retries.
package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/canonica-labs/querio/internal/errors"
)

// Plan is the top-level node of an engine's execution plan.
type Plan struct {
	// Source is the name of the engine that produced the plan.
	Source string `json:"source"`

	// NodeType is the engine's name for the top node (e.g. "Seq Scan").
	NodeType string `json:"node_type"`

	// FullScan is true when the engine reads every row of a table.
	FullScan bool `json:"full_scan"`

	// TotalCost is the engine's cost estimate, valid when HasCost is set.
	TotalCost float64 `json:"total_cost"`
	HasCost   bool    `json:"has_cost"`

	// Raw is the top node as the engine reported it.
	Raw map[string]any `json:"raw"`
}

// PlanSource is the interface all plan sources must implement.
type PlanSource interface {
	// Name returns the unique name of this engine.
	Name() string

	// ExplainPlan asks the engine for its plan of query. The query is sent
	// exactly as given.
	ExplainPlan(ctx context.Context, query string) (*Plan, error)

	// Ping checks if the engine is reachable.
	Ping(ctx context.Context) error
}

// Opener opens a database handle. sql.Open is the default.
type Opener func(driverName, dataSourceName string) (*sql.DB, error)

// Options configure a plan source.
type Options struct {
	Opener Opener
}

// Option mutates Options.
type Option func(*Options)

// WithOpener replaces the function used to open database handles.
func WithOpener(open Opener) Option {
	return func(o *Options) {
		o.Opener = open
	}
}

// ApplyOptions resolves opts over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{Opener: sql.Open}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Opener == nil {
		o.Opener = sql.Open
	}
	return o
}

// WithConnection opens a handle, passes it to fn and closes it on every
// path before returning.
func WithConnection(open Opener, driver, dsn string, fn func(*sql.DB) error) error {
	db, err := open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxMode is how an EXPLAIN is isolated from the database.
type TxMode int

const (
	// TxReadOnly asks the driver for a read-only transaction.
	TxReadOnly TxMode = iota
	// TxRollback is a plain transaction, for drivers that reject the
	// read-only option.
	TxRollback
	// TxNone runs on the handle directly, for drivers without
	// transactions that accept one statement per call.
	TxNone
)

// Explain opens a handle and runs fn inside a transaction of the given
// mode. The transaction is rolled back and the handle closed on every path,
// so nothing the engine executes while planning is kept.
func Explain(ctx context.Context, open Opener, driver, dsn string, mode TxMode, fn func(Queryer) error) error {
	return WithConnection(open, driver, dsn, func(db *sql.DB) error {
		if mode == TxNone {
			return fn(db)
		}
		var opts *sql.TxOptions
		if mode == TxReadOnly {
			opts = &sql.TxOptions{ReadOnly: true}
		}
		tx, err := db.BeginTx(ctx, opts)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		return fn(tx)
	})
}

// QueryText runs stmt and returns the first column of the first row as text.
func QueryText(ctx context.Context, q Queryer, stmt string) (string, error) {
	var out string
	rows, err := q.QueryContext(ctx, stmt)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no plan rows returned")
	}
	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}
	dest := make([]any, len(cols))
	dest[0] = &out
	for i := 1; i < len(cols); i++ {
		dest[i] = new(any)
	}
	if err := rows.Scan(dest...); err != nil {
		return "", err
	}
	return out, rows.Err()
}

// RelationMatcher reports whether err means a referenced relation is
// missing, and which one when the engine says so.
type RelationMatcher func(err error) (relation string, missing bool)

// Classify wraps a driver error into the querio taxonomy.
func Classify(source string, err error, missing RelationMatcher) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewPlanTimeout(source, err)
	}
	if missing != nil {
		if relation, ok := missing(err); ok {
			return errors.NewRelationNotFound(source, relation, err)
		}
	}
	return errors.NewPlanSourceUnavailable(source, err)
}

var quotedName = regexp.MustCompile(`["'\x60]([^"'\x60]+)["'\x60]`)

// QuotedName extracts the first quoted identifier from an engine message.
func QuotedName(msg string) string {
	if m := quotedName.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// MessageMatcher builds a RelationMatcher over error text.
func MessageMatcher(fragments ...string) RelationMatcher {
	return func(err error) (string, bool) {
		msg := err.Error()
		lower := strings.ToLower(msg)
		for _, f := range fragments {
			if idx := strings.Index(lower, f); idx >= 0 {
				if name := QuotedName(msg); name != "" {
					return name, true
				}
				return strings.Trim(msg[idx+len(f):], ": "), true
			}
		}
		return "", false
	}
}

// ConnParams are the discrete connection settings a DSN is built from.
// A non-empty DSN wins over the other fields.
type ConnParams struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Extra    map[string]string
}

// Factory builds a plan source from a data source name.
type Factory func(dsn string, opts ...Option) PlanSource

// DSNBuilder renders ConnParams into a driver-specific data source name.
type DSNBuilder func(p ConnParams) (string, error)

type registration struct {
	factory Factory
	dsn     DSNBuilder
}

// SourceRegistry manages plan source factories by driver name.
type SourceRegistry struct {
	entries map[string]registration
}

// NewSourceRegistry creates a new, empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		entries: make(map[string]registration),
	}
}

// Register adds a driver to the registry.
func (r *SourceRegistry) Register(driver string, factory Factory, dsn DSNBuilder) {
	r.entries[driver] = registration{factory: factory, dsn: dsn}
}

// Has reports whether driver is registered.
func (r *SourceRegistry) Has(driver string) bool {
	_, ok := r.entries[driver]
	return ok
}

// Open builds the plan source for driver.
func (r *SourceRegistry) Open(driver string, params ConnParams, opts ...Option) (PlanSource, error) {
	entry, ok := r.entries[driver]
	if !ok {
		return nil, errors.NewInvalidConfig("plan_source.driver",
			fmt.Sprintf("unknown driver %q (available: %s)", driver, strings.Join(r.Available(), ", ")))
	}
	dsn := params.DSN
	if dsn == "" && entry.dsn != nil {
		built, err := entry.dsn(params)
		if err != nil {
			return nil, errors.NewInvalidConfig("plan_source", err.Error())
		}
		dsn = built
	}
	return entry.factory(dsn, opts...), nil
}

// Available returns the registered driver names, sorted.
func (r *SourceRegistry) Available() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty returns true if no factories are registered.
func (r *SourceRegistry) IsEmpty() bool {
	return len(r.entries) == 0
}

// ToFloat reads a numeric plan field that engines emit as a JSON number or
// as a string.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// StringField returns m[key] when it is a string.
func StringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Walk visits node and every descendant reachable through childrenKey,
// depth first, until visit returns true. It reports whether visit did.
func Walk(node map[string]any, childrenKey string, visit func(map[string]any) bool) bool {
	if node == nil {
		return false
	}
	if visit(node) {
		return true
	}
	children, _ := node[childrenKey].([]any)
	for _, c := range children {
		if child, ok := c.(map[string]any); ok && Walk(child, childrenKey, visit) {
			return true
		}
	}
	return false
}
