// Package invoice provides the Invoice document and tenant notes.
// Invoices always belong to a tenant, are soft-deleted and carry an
// optimistic version; notes may belong to the host.
package invoice

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/model"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusCancelled Status = "cancelled"
)

// Invoice is a tenant-owned billing document.
type Invoice struct {
	entity.BaseEntity
	entity.Versioning
	entity.MustHaveTenantField
	entity.SoftDeleteFields
	entity.Audited
	entity.AggregateRoot

	// Number is assigned by the numerator when left empty on create.
	Number string `db:"number" json:"number"`

	Customer string          `db:"customer" json:"customer"`
	Amount   decimal.Decimal `db:"amount" json:"amount"`
	Currency string          `db:"currency" json:"currency"`
	Status   Status          `db:"status" json:"status"`

	IssuedAt    *time.Time `db:"issued_at" json:"issuedAt,omitempty"`
	Description *string    `db:"description" json:"description,omitempty"`
}

// NewInvoice creates a draft invoice.
func NewInvoice(customer string, amount decimal.Decimal, currency string) *Invoice {
	return &Invoice{
		Customer: customer,
		Amount:   amount,
		Currency: currency,
		Status:   StatusDraft,
	}
}

// Validate checks field-level rules.
func (i *Invoice) Validate(_ context.Context) error {
	if i.Customer == "" {
		return apperror.NewValidation("customer is required").
			WithDetail("field", "customer")
	}
	if i.Amount.IsNegative() {
		return apperror.NewValidation("amount cannot be negative").
			WithDetail("field", "amount")
	}
	if len(i.Currency) != 3 {
		return apperror.NewValidation("currency must be a 3-letter code").
			WithDetail("field", "currency")
	}
	switch i.Status {
	case StatusDraft, StatusIssued, StatusCancelled:
	default:
		return apperror.NewValidation("invalid status").
			WithDetail("field", "status")
	}
	return nil
}

// Issue moves a draft to issued and raises InvoiceIssued.
func (i *Invoice) Issue(at time.Time) error {
	if i.Status != StatusDraft {
		return apperror.NewBusinessRule("INVOICE_NOT_DRAFT", "only draft invoices can be issued").
			WithDetail("status", i.Status)
	}
	if !i.Amount.IsPositive() {
		return apperror.NewBusinessRule("INVOICE_EMPTY", "an issued invoice needs a positive amount")
	}
	i.Status = StatusIssued
	i.IssuedAt = &at
	i.Raise(InvoiceIssued{Number: i.Number, Customer: i.Customer, Amount: i.Amount, Currency: i.Currency})
	return nil
}

// Cancel cancels an issued invoice and raises InvoiceCancelled.
func (i *Invoice) Cancel(reason string) error {
	if i.Status != StatusIssued {
		return apperror.NewBusinessRule("INVOICE_NOT_ISSUED", "only issued invoices can be cancelled").
			WithDetail("status", i.Status)
	}
	i.Status = StatusCancelled
	i.Raise(InvoiceCancelled{Number: i.Number, Reason: reason})
	return nil
}

// InvoiceIssued is raised when an invoice is issued.
type InvoiceIssued struct {
	Number   string          `json:"number"`
	Customer string          `json:"customer"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// InvoiceCancelled is raised when an issued invoice is cancelled.
type InvoiceCancelled struct {
	Number string `json:"number"`
	Reason string `json:"reason,omitempty"`
}

// Note is free text owned by a tenant or, with a nil tenant, by the host.
type Note struct {
	entity.BaseEntity
	entity.MayHaveTenantField
	entity.Audited

	Text string `db:"text" json:"text"`
}

// Validate checks field-level rules.
func (n *Note) Validate(_ context.Context) error {
	if n.Text == "" {
		return apperror.NewValidation("text is required").WithDetail("field", "text")
	}
	return nil
}

// Register adds the entity types of this package to b.
func Register(b *model.Builder) {
	model.Register[Invoice](b, model.Definition{Name: "invoice", Table: "invoices"})
	model.Register[Note](b, model.Definition{Name: "note", Table: "notes"})
}
