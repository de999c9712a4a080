// Package connect opens the executor matching an endpoint's kind.
package connect

import (
	"fmt"

	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/executor"
	"github.com/kazi/sqlapply/internal/executor/rest"
	"github.com/kazi/sqlapply/internal/executor/sqldb"
)

// Open creates an executor for the endpoint. It does not contact the store;
// call Ping for that.
func Open(ep database.Endpoint) (executor.Executor, error) {
	ep = ep.WithDefaults()
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	switch ep.Kind {
	case database.KindPostgres, database.KindSQLite, database.KindLibSQL:
		return sqldb.Open(ep)
	case database.KindREST:
		return rest.New(ep)
	default:
		return nil, fmt.Errorf("unsupported endpoint kind: %s", ep.Kind)
	}
}
