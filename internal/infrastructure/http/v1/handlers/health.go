package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenantdb/internal/core/tenant"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TenantStatser reports cached tenant resolutions.
type TenantStatser interface {
	Stats() tenant.ManagerStats
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	db      Pinger
	tenants TenantStatser
	version string
}

// NewHealthHandler creates a new health handler. tenants may be nil.
func NewHealthHandler(db Pinger, tenants TenantStatser, version string) *HealthHandler {
	return &HealthHandler{db: db, tenants: tenants, version: version}
}

// Live handles liveness check (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready handles readiness check - checks the shared database.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": map[string]string{
				"database": "unhealthy: " + err.Error(),
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			"database": "healthy",
		},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	body := gin.H{
		"app":     "tenantdb",
		"version": h.version,
	}
	if h.tenants != nil {
		body["dedicated_pools"] = h.tenants.Stats().DedicatedPools
	}
	c.JSON(http.StatusOK, body)
}

// TenantsStats returns the cached tenant resolutions.
// GET /health/tenants
func (h *HealthHandler) TenantsStats(c *gin.Context) {
	if h.tenants == nil {
		c.JSON(http.StatusOK, gin.H{"dedicated_pools": 0, "tenants": []gin.H{}})
		return
	}
	stats := h.tenants.Stats()
	details := make([]gin.H, 0, len(stats.Tenants))
	for _, t := range stats.Tenants {
		details = append(details, gin.H{
			"tenant_id": t.TenantID,
			"dedicated": t.Dedicated,
			"last_used": t.LastUsed,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"dedicated_pools": stats.DedicatedPools,
		"tenants":         details,
	})
}
