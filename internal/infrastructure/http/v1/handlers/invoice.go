package handlers

import (
	"github.com/gin-gonic/gin"

	"tenantdb/internal/domain/invoice"
	"tenantdb/internal/infrastructure/http/v1/dto"
)

// InvoiceHandler handles HTTP requests for invoices and notes.
type InvoiceHandler struct {
	*BaseHandler
	service *invoice.Service
}

// NewInvoiceHandler creates a new invoice handler.
func NewInvoiceHandler(base *BaseHandler, service *invoice.Service) *InvoiceHandler {
	return &InvoiceHandler{BaseHandler: base, service: service}
}

// List handles GET /invoices.
// Soft-deleted invoices are listed when the SoftDelete filter is disabled
// for the request.
func (h *InvoiceHandler) List(c *gin.Context) {
	var req dto.ListInvoicesRequest
	if !h.BindQuery(c, &req) {
		return
	}
	req.Defaults()

	items, total, err := h.service.List(c.Request.Context(), invoice.ListFilter{
		Customer: req.Customer,
		Status:   invoice.Status(req.Status),
		Limit:    req.Limit,
		Offset:   req.Offset,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	out := make([]dto.InvoiceResponse, 0, len(items))
	for _, inv := range items {
		out = append(out, dto.FromInvoice(inv))
	}
	h.OK(c, dto.ListResponse[dto.InvoiceResponse]{
		Items:      out,
		TotalCount: total,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
}

// Create handles POST /invoices.
func (h *InvoiceHandler) Create(c *gin.Context) {
	var req dto.CreateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	inv := req.ToEntity()
	if err := h.service.Create(c.Request.Context(), inv); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromInvoice(inv))
}

// Get handles GET /invoices/:id.
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	inv, err := h.service.Get(c.Request.Context(), invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInvoice(inv))
}

// Update handles PUT /invoices/:id.
func (h *InvoiceHandler) Update(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	var req dto.UpdateInvoiceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	inv, err := h.service.Get(ctx, invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}
	req.ApplyTo(inv)
	if err := h.service.Update(ctx, inv); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInvoice(inv))
}

// Issue handles POST /invoices/:id/issue.
func (h *InvoiceHandler) Issue(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	inv, err := h.service.Issue(c.Request.Context(), invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInvoice(inv))
}

// Cancel handles POST /invoices/:id/cancel.
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	var req dto.CancelInvoiceRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}
	inv, err := h.service.Cancel(c.Request.Context(), invoiceID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInvoice(inv))
}

// Delete handles DELETE /invoices/:id (soft delete).
func (h *InvoiceHandler) Delete(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), invoiceID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Purge handles DELETE /invoices/:id/purge (hard delete).
func (h *InvoiceHandler) Purge(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	if err := h.service.HardDelete(c.Request.Context(), invoiceID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// Restore handles POST /invoices/:id/restore.
func (h *InvoiceHandler) Restore(c *gin.Context) {
	invoiceID, ok := h.ParseID(c)
	if !ok {
		return
	}
	inv, err := h.service.Restore(c.Request.Context(), invoiceID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInvoice(inv))
}

// ListNotes handles GET /notes.
func (h *InvoiceHandler) ListNotes(c *gin.Context) {
	notes, err := h.service.Notes(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	out := make([]dto.NoteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, dto.FromNote(n))
	}
	h.OK(c, out)
}

// CreateNote handles POST /notes.
func (h *InvoiceHandler) CreateNote(c *gin.Context) {
	var req dto.CreateNoteRequest
	if !h.BindJSON(c, &req) {
		return
	}
	n, err := h.service.AddNote(c.Request.Context(), req.Text)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromNote(n))
}
