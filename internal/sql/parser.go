// Package sql inspects the surface structure of SQL text for the advisor.
// It uses the xwb1989/sqlparser tokenizer to split statements, classify
// them, and locate the filter clause, table sources and joins.
//
// This is deliberately not a grammar-complete parser: anything that
// tokenizes into a statement starting with a word is accepted.
package sql

import (
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/canonica-labs/querio/internal/errors"
)

// Statement types reported by Inspection.StatementType.
const (
	StatementSelect  = "SELECT"
	StatementUnknown = "UNKNOWN"
)

// Token is one lexical token of the input with its byte offsets.
type Token struct {
	Kind  int
	Value string
	Start int
	End   int
}

// Clause is a verbatim slice of the original query.
type Clause struct {
	Text  string
	Start int
	End   int
}

// Inspection is the structural summary of a query.
type Inspection struct {
	// Query is the input, verbatim.
	Query string

	// Statement is the verbatim text of the first statement.
	Statement string

	// StatementType is the sqlparser statement type of the first statement
	// (SELECT, INSERT, DDL, ...), or UNKNOWN.
	StatementType string

	// StatementCount is the number of non-empty statements in the input.
	StatementCount int

	// Filter is the WHERE clause of the first statement, nil when absent.
	Filter *Clause

	// JoinCount is the number of JOIN keywords in the whole input.
	JoinCount int

	// Tables are the distinct table sources named after FROM or JOIN, in
	// order of first appearance, exactly as written.
	Tables []string

	tokens []Token
}

// IsSelect reports whether the first statement is a SELECT.
func (i *Inspection) IsSelect() bool {
	return i.StatementType == StatementSelect
}

// HasFilter reports whether the first statement has a WHERE clause.
func (i *Inspection) HasFilter() bool {
	return i.Filter != nil
}

// FilterText returns the WHERE clause text, or "" when absent.
func (i *Inspection) FilterText() string {
	if i.Filter == nil {
		return ""
	}
	return i.Filter.Text
}

// Parser inspects SQL queries.
type Parser struct{}

// NewParser creates a new SQL parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse inspects a SQL query. It returns an ErrQueryRejected when the input
// holds no recognizable statement.
func (p *Parser) Parse(query string) (*Inspection, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.NewQueryRejected(query, "empty query")
	}

	tokens := tokenize(query)
	statements := splitStatements(tokens)
	if len(statements) == 0 {
		return nil, errors.NewQueryRejected(query, "no SQL statement found")
	}

	first := statements[0]
	lead := first[0]
	if !isWord(query, lead) && lead.Kind != '(' {
		return nil, errors.NewQueryRejected(query,
			"statement does not start with a keyword")
	}

	last := first[len(first)-1]
	text := query[lead.Start:last.End]

	inspection := &Inspection{
		Query:          query,
		Statement:      text,
		StatementType:  statementType(query, text, first),
		StatementCount: len(statements),
		Filter:         withTrailingComments(query, tokens, findFilter(query, first)),
		JoinCount:      countJoins(query, tokens),
		Tables:         collectTables(query, first),
		tokens:         tokens,
	}
	return inspection, nil
}

// tokenize scans the whole input. Offsets come from the tokenizer's
// Position, which sits one past the lookahead character after each Scan.
func tokenize(query string) []Token {
	tkn := sqlparser.NewStringTokenizer(query)
	var tokens []Token
	prevEnd := 0
	for {
		kind, val := tkn.Scan()
		if kind == 0 {
			break
		}
		end := clamp(tkn.Position-1, prevEnd, len(query))
		start := prevEnd
		for start < end && isBlank(query[start]) {
			start++
		}
		tokens = append(tokens, Token{Kind: kind, Value: string(val), Start: start, End: end})
		if end == prevEnd && kind == sqlparser.LEX_ERROR {
			// No progress; the tokenizer is stuck at the end of input.
			break
		}
		prevEnd = end
	}
	return tokens
}

// splitStatements groups significant tokens into statements on ';'.
// Comments are dropped and empty statements are skipped.
func splitStatements(tokens []Token) [][]Token {
	var (
		statements [][]Token
		current    []Token
	)
	for _, t := range tokens {
		switch t.Kind {
		case sqlparser.COMMENT:
			continue
		case ';':
			if len(current) > 0 {
				statements = append(statements, current)
			}
			current = nil
		default:
			current = append(current, t)
		}
	}
	if len(current) > 0 {
		statements = append(statements, current)
	}
	return statements
}

// statementType classifies a statement using sqlparser.Preview, falling
// back to a full parse for parenthesized selects and to the main verb for
// WITH queries.
func statementType(query, text string, stmt []Token) string {
	typ := sqlparser.StmtType(sqlparser.Preview(text))
	if typ != StatementUnknown {
		return typ
	}

	lead := stmt[0]
	switch {
	case lead.Kind == '(':
		parsed, err := sqlparser.Parse(text)
		if err != nil {
			return StatementUnknown
		}
		switch parsed.(type) {
		case *sqlparser.Select, *sqlparser.Union, *sqlparser.ParenSelect:
			return StatementSelect
		}
	case isWord(query, lead) && strings.EqualFold(lead.Value, "with"):
		depth := 0
		for _, t := range stmt[1:] {
			depth += depthDelta(t)
			if depth != 0 || !isWord(query, t) {
				continue
			}
			switch strings.ToLower(t.Value) {
			case "select", "insert", "update", "delete":
				return strings.ToUpper(t.Value)
			}
		}
	}
	return StatementUnknown
}

// filterTerminators end a WHERE clause at the clause's own nesting level.
var filterTerminators = map[string]bool{
	"group":     true,
	"having":    true,
	"order":     true,
	"limit":     true,
	"union":     true,
	"except":    true,
	"intersect": true,
	"window":    true,
	"qualify":   true,
	"offset":    true,
	"fetch":     true,
	"for":       true,
	"lock":      true,
	"into":      true,
	"returning": true,
}

// findFilter returns the top-level WHERE clause of stmt.
func findFilter(query string, stmt []Token) *Clause {
	depth := 0
	begin := -1
	for idx, t := range stmt {
		if begin < 0 {
			if depth == 0 && isWord(query, t) && strings.EqualFold(t.Value, "where") {
				begin = idx
			}
			depth += depthDelta(t)
			continue
		}
		if depth == 0 && (t.Kind == ')' || (isWord(query, t) && filterTerminators[strings.ToLower(t.Value)])) {
			return clauseOf(query, stmt[begin:idx])
		}
		depth += depthDelta(t)
	}
	if begin < 0 {
		return nil
	}
	return clauseOf(query, stmt[begin:])
}

// withTrailingComments widens a clause over the comments that directly
// follow it, up to the next significant token.
func withTrailingComments(query string, tokens []Token, c *Clause) *Clause {
	if c == nil {
		return nil
	}
	for _, t := range tokens {
		if t.Start < c.End {
			continue
		}
		if t.Kind != sqlparser.COMMENT {
			break
		}
		c.End = t.Start + len(strings.TrimRight(query[t.Start:t.End], " \t\r\n"))
	}
	c.Text = query[c.Start:c.End]
	return c
}

func clauseOf(query string, tokens []Token) *Clause {
	start, end := tokens[0].Start, tokens[len(tokens)-1].End
	return &Clause{Text: query[start:end], Start: start, End: end}
}

func countJoins(query string, tokens []Token) int {
	count := 0
	for _, t := range tokens {
		if isJoin(query, t) {
			count++
		}
	}
	return count
}

// sourceBreaks end a FROM list at its own nesting level.
var sourceBreaks = map[string]bool{
	"where":  true,
	"on":     true,
	"using":  true,
	"group":  true,
	"having": true,
	"order":  true,
	"limit":  true,
	"union":  true,
	"window": true,
	"set":    true,
}

// collectTables walks stmt for identifiers following FROM, JOIN and commas
// inside a FROM list. Derived tables are skipped and aliases are ignored.
// Names are compared as written, without case or quote normalization.
func collectTables(query string, stmt []Token) []string {
	var (
		tables []string
		seen   = map[string]bool{}
		inList = map[int]bool{}
		depth  = 0
		expect = false
	)
	for idx := 0; idx < len(stmt); idx++ {
		t := stmt[idx]
		if expect {
			expect = false
			if isWord(query, t) && strings.EqualFold(t.Value, "lateral") {
				expect = true
				continue
			}
			if name, next := qualifiedName(query, stmt, idx); next > idx {
				if !seen[name] {
					seen[name] = true
					tables = append(tables, name)
				}
				idx = next - 1
				continue
			}
		}

		switch {
		case t.Kind == '(':
			depth++
			delete(inList, depth)
		case t.Kind == ')':
			delete(inList, depth)
			if depth > 0 {
				depth--
			}
		case t.Kind == ',' && inList[depth]:
			expect = true
		case isWord(query, t) && strings.EqualFold(t.Value, "from"):
			inList[depth] = true
			expect = true
		case isJoin(query, t):
			inList[depth] = true
			expect = true
		case isWord(query, t) && sourceBreaks[strings.ToLower(t.Value)]:
			delete(inList, depth)
		}
	}
	return tables
}

// qualifiedName reads name ('.' name)* starting at stmt[idx] and returns the
// verbatim text and the index after it. next == idx when no name starts there.
func qualifiedName(query string, stmt []Token, idx int) (string, int) {
	if !isName(query, stmt[idx]) {
		return "", idx
	}
	start, end := stmt[idx].Start, stmt[idx].End
	next := idx + 1
	for next+1 < len(stmt) && stmt[next].Kind == '.' && isName(query, stmt[next+1]) {
		end = stmt[next+1].End
		next += 2
	}
	return query[start:end], next
}

func isName(query string, t Token) bool {
	if t.Kind == sqlparser.STRING {
		return t.Start < len(query) && query[t.Start] == '"'
	}
	if t.Kind == sqlparser.ID {
		return true
	}
	return isWord(query, t) && !reservedSource[strings.ToLower(t.Value)]
}

// reservedSource lists keywords that never name a table source.
var reservedSource = map[string]bool{
	"select": true, "where": true, "join": true, "on": true, "using": true,
	"group": true, "order": true, "limit": true, "having": true, "union": true,
	"left": true, "right": true, "inner": true, "outer": true, "cross": true,
	"natural": true, "straight_join": true, "set": true, "values": true,
}

func isJoin(query string, t Token) bool {
	if !isWord(query, t) {
		return false
	}
	v := strings.ToLower(t.Value)
	return v == "join" || v == "straight_join"
}

// isWord reports whether t is a bare keyword or identifier in the source.
func isWord(query string, t Token) bool {
	switch t.Kind {
	case sqlparser.STRING, sqlparser.COMMENT, sqlparser.LEX_ERROR,
		sqlparser.VALUE_ARG, sqlparser.LIST_ARG, sqlparser.HEX, sqlparser.BIT_LITERAL:
		return false
	}
	if t.Value == "" || t.Start >= len(query) {
		return false
	}
	c := query[t.Start]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func depthDelta(t Token) int {
	switch t.Kind {
	case '(':
		return 1
	case ')':
		return -1
	}
	return 0
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
