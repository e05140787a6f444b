package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenantdb/internal/core/apperror"
	appctx "tenantdb/internal/core/context"
	"tenantdb/internal/core/tenant"
	"tenantdb/internal/core/uow"
	"tenantdb/pkg/logger"
)

// TenantChecker verifies that a tenant may be served.
// tenant.Manager implements it.
type TenantChecker interface {
	Ensure(ctx context.Context, tenantID int64) error
}

// TenantGuard rejects requests acting for a tenant that is unknown or
// inactive, or whose database cannot be opened. Host requests pass through.
// Must run after UnitOfWork, whose tenant it checks.
func TenantGuard(checker TenantChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID, err := uow.CurrentTenantID(ctx)
		if err != nil {
			tenantID = appctx.GetTenantID(ctx)
		}
		if tenantID == nil {
			c.Next()
			return
		}

		if err := checker.Ensure(ctx, *tenantID); err != nil {
			logger.Warn(ctx, "tenant rejected", "tenant_id", *tenantID, "error", err)

			switch {
			case errors.Is(err, tenant.ErrTenantNotFound):
				_ = c.Error(apperror.NewNotFound("tenant", *tenantID))
			case errors.Is(err, tenant.ErrTenantNotActive):
				_ = c.Error(apperror.NewForbidden("tenant is not active").WithDetail("tenant_id", *tenantID))
			case errors.Is(err, tenant.ErrMaxPoolLimit):
				appErr := apperror.NewInternal(err)
				appErr.HTTPStatus = http.StatusServiceUnavailable
				appErr.Message = "service temporarily unavailable"
				_ = c.Error(appErr.WithDetail("tenant_id", *tenantID))
			default:
				_ = c.Error(apperror.NewInternal(err).WithDetail("tenant_id", *tenantID))
			}
			c.Abort()
			return
		}
		c.Next()
	}
}
