package sqlstore_test

import (
	"reflect"
	"testing"

	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/require"

	"tenantdb/internal/core/resolver"
	"tenantdb/internal/infrastructure/storage/sqlite"
	"tenantdb/internal/infrastructure/storage/sqlstore"
)

func squirrelEq(col string, v any) squirrel.Sqlizer {
	return squirrel.Eq{col: v}
}

type hostRouter struct{ sqlstore.Single }

type tenantRouter struct{ sqlstore.Single }

func newSideRouter(t *testing.T, host, tenant *sqlite.DB) *sqlstore.ResolvingRouter {
	t.Helper()
	r := resolver.New()
	require.NoError(t, r.Populate([]resolver.Candidate{
		{
			Type: reflect.TypeOf(hostRouter{}),
			Side: resolver.SideHost,
			New:  func() any { return hostRouter{sqlstore.Single{DB: host}} },
		},
		{
			Type: reflect.TypeOf(tenantRouter{}),
			Side: resolver.SideTenant,
			New:  func() any { return tenantRouter{sqlstore.Single{DB: tenant}} },
		},
	}))
	return sqlstore.NewResolvingRouter(r)
}
