package v1

import (
	"github.com/gin-gonic/gin"

	"tenantdb/internal/infrastructure/http/v1/middleware"
)

// RoleAdmin may purge rows physically.
const RoleAdmin = "admin"

// InvoiceRouteHandler defines the handler methods behind the invoice routes.
type InvoiceRouteHandler interface {
	List(c *gin.Context)
	Create(c *gin.Context)
	Get(c *gin.Context)
	Update(c *gin.Context)
	Delete(c *gin.Context)
	Purge(c *gin.Context)
	Restore(c *gin.Context)
	Issue(c *gin.Context)
	Cancel(c *gin.Context)
}

// NoteRouteHandler defines the handler methods behind the note routes.
type NoteRouteHandler interface {
	ListNotes(c *gin.Context)
	CreateNote(c *gin.Context)
}

// RegisterInvoiceRoutes registers CRUD and lifecycle routes for invoices.
func RegisterInvoiceRoutes(group *gin.RouterGroup, handler InvoiceRouteHandler) {
	group.GET("", handler.List)
	group.POST("", handler.Create)
	group.GET("/:id", handler.Get)
	group.PUT("/:id", handler.Update)
	group.DELETE("/:id", handler.Delete)
	group.DELETE("/:id/purge", middleware.RequireRole(RoleAdmin), handler.Purge)
	group.POST("/:id/restore", handler.Restore)
	group.POST("/:id/issue", handler.Issue)
	group.POST("/:id/cancel", handler.Cancel)
}

// RegisterNoteRoutes registers the note routes.
func RegisterNoteRoutes(group *gin.RouterGroup, handler NoteRouteHandler) {
	group.GET("", handler.ListNotes)
	group.POST("", handler.CreateNote)
}
