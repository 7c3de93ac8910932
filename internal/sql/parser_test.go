package sql

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/querio/internal/errors"
)

func TestParseRejectsInputWithoutStatement(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"blank":        "   \n\t ",
		"comment only": "-- nothing to see\n/* here */",
		"separators":   " ; ;",
		"number":       "123",
		"string":       "'SELECT * FROM t'",
	}
	for name, query := range cases {
		t.Run(name, func(t *testing.T) {
			inspection, err := NewParser().Parse(query)
			require.Error(t, err)
			assert.Nil(t, inspection)

			var rejected *errors.ErrQueryRejected
			require.True(t, stderrors.As(err, &rejected))
			assert.Equal(t, query, rejected.Query)
		})
	}
}

func TestParseStatementType(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"SELECT name FROM users", "SELECT"},
		{"select name from users", "SELECT"},
		{"/* hint */ SELECT 1", "SELECT"},
		{"(SELECT id FROM t)", "SELECT"},
		{"WITH recent AS (SELECT id FROM t) SELECT id FROM recent", "SELECT"},
		{"INSERT INTO t VALUES (1)", "INSERT"},
		{"UPDATE users SET age = age - 1 WHERE id = 3", "UPDATE"},
		{"DELETE FROM users WHERE id = 1", "DELETE"},
		{"CREATE TABLE t (id int)", "DDL"},
		{"hello world", "UNKNOWN"},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			inspection, err := NewParser().Parse(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.want, inspection.StatementType)
		})
	}
}

func TestParseTakesFirstStatement(t *testing.T) {
	inspection, err := NewParser().Parse("SELECT 1; SELECT * FROM users WHERE id = 2;")
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", inspection.Statement)
	assert.Equal(t, 2, inspection.StatementCount)
	assert.False(t, inspection.HasFilter())
}

func TestParseFilterClause(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"to end", "SELECT * FROM users WHERE age + 1 > 30", "WHERE age + 1 > 30"},
		{"lower case", "select * from users where age > 3", "where age > 3"},
		{"before group by", "SELECT name FROM users WHERE age > 3 GROUP BY name", "WHERE age > 3"},
		{"before order by", "SELECT name FROM users WHERE a = 1 ORDER BY name", "WHERE a = 1"},
		{"before limit", "SELECT name FROM users WHERE a = 1 LIMIT 5", "WHERE a = 1"},
		{"before semicolon", "SELECT name FROM users WHERE a = 1;", "WHERE a = 1"},
		{"subquery kept", "SELECT * FROM orders WHERE id IN (SELECT order_id FROM items WHERE qty > 1) ORDER BY id",
			"WHERE id IN (SELECT order_id FROM items WHERE qty > 1)"},
		{"delete", "DELETE FROM users WHERE id = 1", "WHERE id = 1"},
		{"trailing comment", "SELECT name FROM users WHERE name = 'x' -- age", "WHERE name = 'x' -- age"},
		{"comment before group by", "SELECT name FROM users WHERE a = 1 /* age */ GROUP BY name", "WHERE a = 1 /* age */"},
		{"comment before semicolon", "SELECT name FROM users WHERE a = 1 /* age */; SELECT 2", "WHERE a = 1 /* age */"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inspection, err := NewParser().Parse(tc.query)
			require.NoError(t, err)
			require.True(t, inspection.HasFilter())
			assert.Equal(t, tc.want, inspection.FilterText())
			assert.Equal(t, tc.want, tc.query[inspection.Filter.Start:inspection.Filter.End])
		})
	}
}

func TestParseFilterAbsent(t *testing.T) {
	cases := []string{
		"SELECT name FROM users",
		"SELECT 'where' FROM users",
		"SELECT name FROM users -- where age > 3",
		"SELECT * FROM (SELECT id FROM t WHERE id > 1) sub",
	}
	for _, query := range cases {
		t.Run(query, func(t *testing.T) {
			inspection, err := NewParser().Parse(query)
			require.NoError(t, err)
			assert.False(t, inspection.HasFilter())
			assert.Equal(t, "", inspection.FilterText())
		})
	}
}

func TestParseTablesAndJoins(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		tables []string
		joins  int
	}{
		{"single", "SELECT name FROM users", []string{"users"}, 0},
		{"comma list", "SELECT a FROM t1, t2 WHERE t1.id = t2.id", []string{"t1", "t2"}, 0},
		{"distinct join", "SELECT * FROM users u JOIN orders o ON u.id = o.user_id", []string{"users", "orders"}, 1},
		{"self join", "SELECT u.name FROM users u JOIN users v ON u.id = v.manager_id", []string{"users"}, 1},
		{"left join", "SELECT * FROM a LEFT JOIN b ON a.id = b.id LEFT OUTER JOIN c ON b.id = c.id", []string{"a", "b", "c"}, 2},
		{"qualified", "SELECT * FROM sales.orders o JOIN public.orders p ON o.id = p.id", []string{"sales.orders", "public.orders"}, 1},
		{"quoting not normalized", "SELECT * FROM `users` JOIN users ON 1 = 1", []string{"`users`", "users"}, 1},
		{"subquery source", "SELECT * FROM orders WHERE id IN (SELECT order_id FROM items)", []string{"orders", "items"}, 0},
		{"derived table", "SELECT * FROM (SELECT id FROM t) d JOIN t ON d.id = t.id", []string{"t"}, 1},
		{"join column name", "SELECT joined_at FROM users", []string{"users"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inspection, err := NewParser().Parse(tc.query)
			require.NoError(t, err)
			assert.Equal(t, tc.tables, inspection.Tables)
			assert.Equal(t, tc.joins, inspection.JoinCount)
		})
	}
}

func TestParseCountsJoinsAcrossStatements(t *testing.T) {
	inspection, err := NewParser().Parse("SELECT * FROM a; SELECT * FROM b JOIN c ON b.id = c.id")
	require.NoError(t, err)

	assert.Equal(t, 1, inspection.JoinCount)
	assert.Equal(t, []string{"a"}, inspection.Tables)
}

func TestTokenizeOffsets(t *testing.T) {
	query := "select  name\nfrom users;"
	tokens := tokenize(query)
	require.Len(t, tokens, 5)

	for _, tok := range tokens[:4] {
		assert.Equal(t, tok.Value, query[tok.Start:tok.End], "token %q", tok.Value)
	}
	assert.Equal(t, ";", query[tokens[4].Start:tokens[4].End])
}
