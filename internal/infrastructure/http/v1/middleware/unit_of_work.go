package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tenantdb/internal/core/apperror"
	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/datafilter"
	"tenantdb/internal/core/uow"
)

const (
	// HeaderTenantID lets a host administrator act for one tenant.
	HeaderTenantID = "X-Tenant-ID"
	// HeaderDisableFilters is a comma-separated list of data filter names
	// to switch off for the request.
	HeaderDisableFilters = "X-Disable-Filters"

	// sessionStateKey holds the datafilter.State the request ran with.
	sessionStateKey = "uow.session_state"
)

// UnitOfWork begins one unit of work per request and ends it when the
// handler returns. The tenant comes from the authenticated user unless a
// host administrator names one in X-Tenant-ID. Must run after Auth.
func UnitOfWork(manager *uow.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, u := manager.Begin(c.Request.Context())
		defer u.Close()

		user := appctx.GetUser(ctx)
		hostAdmin := user != nil && user.TenantID == nil && user.IsAdmin

		if raw := c.GetHeader(HeaderTenantID); raw != "" {
			if !hostAdmin {
				abortWith(c, apperror.NewForbidden("only host administrators can act for a tenant"))
				return
			}
			tenantID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || tenantID <= 0 {
				abortWith(c, apperror.NewValidation("invalid tenant id").
					WithDetail("header", HeaderTenantID).
					WithDetail("value", raw))
				return
			}
			ctx = u.SetTenantID(ctx, &tenantID)
		}

		if raw := c.GetHeader(HeaderDisableFilters); raw != "" {
			names, err := parseFilterNames(raw)
			if err != nil {
				abortWith(c, err)
				return
			}
			for _, n := range names {
				if n != datafilter.SoftDelete && !hostAdmin {
					abortWith(c, apperror.NewForbidden("only host administrators can disable tenant filters").
						WithDetail("filter", string(n)))
					return
				}
			}
			ctx = u.DisableFilter(ctx, names...)
		}

		c.Set(sessionStateKey, uow.FilterState(ctx))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func parseFilterNames(raw string) ([]datafilter.Name, error) {
	var names []datafilter.Name
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := datafilter.ParseName(part)
		if err != nil {
			return nil, apperror.NewValidation("unknown data filter").
				WithDetail("header", HeaderDisableFilters).
				WithDetail("value", part)
		}
		names = append(names, n)
	}
	return names, nil
}

func abortWith(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
