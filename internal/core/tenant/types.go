// Package tenant keeps the tenant registry and the per-tenant database
// pools used when tenants live in databases of their own.
package tenant

import (
	"fmt"
	"strings"
	"time"
)

// Status represents tenant lifecycle state.
type Status string

const (
	// StatusActive - tenant can accept requests
	StatusActive Status = "active"

	// StatusSuspended - tenant is temporarily disabled
	StatusSuspended Status = "suspended"

	// StatusDeleted - tenant is marked for deletion
	StatusDeleted Status = "deleted"
)

// ParseStatus accepts the lower-case status names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusSuspended, StatusDeleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown tenant status %q", s)
}

// Tenant is a row of the host-side tenants table.
type Tenant struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	// ConnectionString points at a dedicated database. Nil means the
	// tenant's rows live in the shared database.
	ConnectionString *string   `db:"connection_string"`
	Status           Status    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
}

// IsActive returns true if tenant can accept requests.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// HasDedicatedDatabase reports whether the tenant uses its own database.
func (t *Tenant) HasDedicatedDatabase() bool {
	return t.ConnectionString != nil && strings.TrimSpace(*t.ConnectionString) != ""
}

// CreateInput contains data for registering a tenant.
type CreateInput struct {
	Name             string
	ConnectionString string
}

// Validate checks and normalizes the input.
func (i *CreateInput) Validate() error {
	i.Name = strings.TrimSpace(i.Name)
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(i.Name) > 128 {
		return fmt.Errorf("name must be 128 characters or less")
	}
	i.ConnectionString = strings.TrimSpace(i.ConnectionString)
	return nil
}
