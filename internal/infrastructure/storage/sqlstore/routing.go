package sqlstore

import (
	"context"

	"tenantdb/internal/core/resolver"
)

// ResolvingRouter asks the context type resolver which Router applies to
// the ambient unit of work (host or tenant side) and delegates to it.
// Candidates are registered with the resolver as concrete Router types.
type ResolvingRouter struct {
	resolver *resolver.Resolver
}

// NewResolvingRouter creates a router over a populated resolver.
func NewResolvingRouter(r *resolver.Resolver) *ResolvingRouter {
	return &ResolvingRouter{resolver: r}
}

// Conn implements Router. It must be called inside a unit of work.
func (r *ResolvingRouter) Conn(ctx context.Context) (Conn, error) {
	target, err := resolver.ResolveInstance[Router](ctx, r.resolver)
	if err != nil {
		return nil, err
	}
	return target.Conn(ctx)
}
