// Package sources wires every built-in plan source into a registry.
package sources

import (
	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/internal/adapters/duckdb"
	"github.com/canonica-labs/querio/internal/adapters/mysql"
	"github.com/canonica-labs/querio/internal/adapters/postgres"
	"github.com/canonica-labs/querio/internal/adapters/redshift"
	"github.com/canonica-labs/querio/internal/adapters/snowflake"
	"github.com/canonica-labs/querio/internal/adapters/sqlite"
	"github.com/canonica-labs/querio/internal/adapters/trino"
)

// NewRegistry returns a registry holding every built-in plan source.
func NewRegistry() *adapters.SourceRegistry {
	r := adapters.NewSourceRegistry()
	r.Register(postgres.DriverName, postgres.New, postgres.DSN)
	r.Register(mysql.DriverName, mysql.New, mysql.DSN)
	r.Register(sqlite.DriverName, sqlite.New, sqlite.DSN)
	r.Register(duckdb.DriverName, duckdb.New, duckdb.DSN)
	r.Register(trino.DriverName, trino.New, trino.DSN)
	r.Register(redshift.DriverName, redshift.New, redshift.DSN)
	r.Register(snowflake.DriverName, snowflake.New, snowflake.DSN)
	return r
}
