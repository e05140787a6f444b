// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"tenantdb/internal/core/uow"
	"tenantdb/internal/domain/invoice"
	"tenantdb/internal/infrastructure/http/v1/handlers"
	"tenantdb/internal/infrastructure/http/v1/middleware"
	"tenantdb/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// UnitOfWork begins the per-request unit of work.
	UnitOfWork *uow.Manager

	// Tenants rejects unknown or inactive tenants. Optional.
	Tenants middleware.TenantChecker

	// Database is pinged by the readiness check.
	Database handlers.Pinger

	// TenantStats feeds /health/tenants. Optional.
	TenantStats handlers.TenantStatser

	Invoices *invoice.Service

	Version string
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Database, cfg.TenantStats, cfg.Version)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
		health.GET("/tenants", healthHandler.TenantsStats)
	}

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		// Auth first: the unit of work takes its tenant from the user, and
		// the guard checks the tenant of the unit of work.
		protected.Use(middleware.Auth(cfg.JWTValidator))
		protected.Use(middleware.UnitOfWork(cfg.UnitOfWork))
		if cfg.Tenants != nil {
			protected.Use(middleware.TenantGuard(cfg.Tenants))
		}

		invoiceHandler := handlers.NewInvoiceHandler(handlers.NewBaseHandler(), cfg.Invoices)
		RegisterInvoiceRoutes(protected.Group("/invoices"), invoiceHandler)
		RegisterNoteRoutes(protected.Group("/notes"), invoiceHandler)
	}

	return router
}
