package postgres

import (
	"context"
	"reflect"

	"tenantdb/internal/core/resolver"
	"tenantdb/internal/core/tenant"
	"tenantdb/internal/core/uow"
	"tenantdb/internal/infrastructure/storage/sqlstore"
)

// Tenants is the tenant manager specialised to PostgreSQL databases.
type Tenants = tenant.Manager[*DB]

// HostRouter routes host-side work to the shared database.
type HostRouter struct {
	Tenants *Tenants
}

// Conn implements sqlstore.Router.
func (r HostRouter) Conn(context.Context) (sqlstore.Conn, error) {
	return r.Tenants.Shared(), nil
}

// TenantRouter routes to the database of the ambient tenant.
type TenantRouter struct {
	Tenants *Tenants
}

// Conn implements sqlstore.Router.
func (r TenantRouter) Conn(ctx context.Context) (sqlstore.Conn, error) {
	tenantID, err := uow.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	db, err := r.Tenants.Database(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Candidates returns the resolver table choosing between the host and
// tenant routers. The host router is the default.
func Candidates(tenants *Tenants) []resolver.Candidate {
	return []resolver.Candidate{
		{
			Type:    reflect.TypeOf(HostRouter{}),
			Side:    resolver.SideHost,
			Default: true,
			New:     func() any { return HostRouter{Tenants: tenants} },
		},
		{
			Type: reflect.TypeOf(TenantRouter{}),
			Side: resolver.SideTenant,
			New:  func() any { return TenantRouter{Tenants: tenants} },
		},
	}
}
