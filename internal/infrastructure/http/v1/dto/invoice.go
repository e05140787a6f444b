package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"tenantdb/internal/domain/invoice"
)

// CreateInvoiceRequest is the body of POST /invoices.
type CreateInvoiceRequest struct {
	// Number is optional; the numerator assigns one when empty.
	Number      string          `json:"number"`
	Customer    string          `json:"customer" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" binding:"required,len=3"`
	Description *string         `json:"description"`
}

// ToEntity maps the request to a draft invoice.
func (r CreateInvoiceRequest) ToEntity() *invoice.Invoice {
	inv := invoice.NewInvoice(r.Customer, r.Amount, r.Currency)
	inv.Number = r.Number
	inv.Description = r.Description
	return inv
}

// UpdateInvoiceRequest is the body of PUT /invoices/:id. Version is the
// version the client read; a stale one yields 409.
type UpdateInvoiceRequest struct {
	Customer    *string          `json:"customer"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *string          `json:"currency"`
	Description *string          `json:"description"`
	Version     int              `json:"version" binding:"required,min=1"`
}

// ApplyTo copies the set fields onto inv.
func (r UpdateInvoiceRequest) ApplyTo(inv *invoice.Invoice) {
	if r.Customer != nil {
		inv.Customer = *r.Customer
	}
	if r.Amount != nil {
		inv.Amount = *r.Amount
	}
	if r.Currency != nil {
		inv.Currency = *r.Currency
	}
	if r.Description != nil {
		inv.Description = r.Description
	}
	inv.Version = r.Version
}

// CancelInvoiceRequest is the body of POST /invoices/:id/cancel.
type CancelInvoiceRequest struct {
	Reason string `json:"reason"`
}

// ListInvoicesRequest holds the query parameters of GET /invoices.
type ListInvoicesRequest struct {
	PaginationRequest
	Customer string `form:"customer"`
	Status   string `form:"status" binding:"omitempty,oneof=draft issued cancelled"`
}

// InvoiceResponse is the API view of an invoice.
type InvoiceResponse struct {
	ID          string          `json:"id"`
	Version     int             `json:"version"`
	TenantID    *int64          `json:"tenantId,omitempty"`
	Number      string          `json:"number"`
	Customer    string          `json:"customer"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Description *string         `json:"description,omitempty"`
	IssuedAt    *time.Time      `json:"issuedAt,omitempty"`
	IsDeleted   bool            `json:"isDeleted"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

// FromInvoice maps an invoice to its response.
func FromInvoice(inv *invoice.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:          inv.ID.String(),
		Version:     inv.Version,
		TenantID:    inv.GetTenantID(),
		Number:      inv.Number,
		Customer:    inv.Customer,
		Amount:      inv.Amount,
		Currency:    inv.Currency,
		Status:      string(inv.Status),
		Description: inv.Description,
		IssuedAt:    inv.IssuedAt,
		IsDeleted:   inv.Deleted,
		CreatedAt:   inv.CreatedAt,
		UpdatedAt:   inv.UpdatedAt,
	}
}

// CreateNoteRequest is the body of POST /notes.
type CreateNoteRequest struct {
	Text string `json:"text" binding:"required"`
}

// NoteResponse is the API view of a note.
type NoteResponse struct {
	ID        string    `json:"id"`
	TenantID  *int64    `json:"tenantId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromNote maps a note to its response.
func FromNote(n *invoice.Note) NoteResponse {
	return NoteResponse{
		ID:        n.ID.String(),
		TenantID:  n.TenantID,
		Text:      n.Text,
		CreatedAt: n.CreatedAt,
	}
}
