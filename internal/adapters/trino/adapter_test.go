package trino

import (
	"context"
	"database/sql"
	"net/url"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/querio/internal/adapters"
)

const logicalPlan = `{
  "id": "6",
  "name": "Output",
  "descriptor": {"columnNames": "[name]"},
  "estimates": [{"outputRowCount": 1500.0, "outputSizeInBytes": 30000.0, "cpuCost": 2250.5, "memoryCost": 0.0, "networkCost": 0.0}],
  "children": [{
    "id": "2",
    "name": "ScanFilterProject",
    "children": [{"id": "0", "name": "TableScan", "children": []}]
  }]
}`

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan(logicalPlan)
	require.NoError(t, err)

	assert.Equal(t, "trino", plan.Source)
	assert.Equal(t, "Output", plan.NodeType)
	assert.True(t, plan.FullScan)
	assert.True(t, plan.HasCost)
	assert.InDelta(t, 2250.5, plan.TotalCost, 0.001)
}

func TestParsePlanWithoutScanOrCost(t *testing.T) {
	plan, err := ParsePlan(`{"name": "Values", "children": []}`)
	require.NoError(t, err)

	assert.False(t, plan.FullScan)
	assert.False(t, plan.HasCost)

	_, err = ParsePlan(`{"id": "0"}`)
	assert.Error(t, err)
}

func TestExplainPlan(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	mock.ExpectQuery("EXPLAIN (TYPE LOGICAL, FORMAT JSON) SELECT name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"Query Plan"}).AddRow(logicalPlan))
	mock.ExpectClose()

	source := New("http://querio@trino:8080", adapters.WithOpener(func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, DriverName, driver)
		assert.Equal(t, "http://querio@trino:8080", dsn)
		return db, nil
	}))

	plan, err := source.ExplainPlan(context.Background(), "SELECT name FROM users")
	require.NoError(t, err)
	assert.Equal(t, "Output", plan.NodeType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(adapters.ConnParams{Host: "trino", Extra: map[string]string{"catalog": "hive", "schema": "sales"}})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "querio", u.User.Username())
	assert.Equal(t, "trino:8080", u.Host)
	assert.Equal(t, "hive", u.Query().Get("catalog"))
	assert.Equal(t, "sales", u.Query().Get("schema"))

	dsn, err = DSN(adapters.ConnParams{Host: "trino", Port: 8443, User: "ops", SSLMode: "require"})
	require.NoError(t, err)
	assert.Equal(t, "https://ops@trino:8443?catalog=memory&schema=default", dsn)

	_, err = DSN(adapters.ConnParams{})
	assert.Error(t, err)
}
