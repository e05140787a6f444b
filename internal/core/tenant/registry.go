package tenant

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry provides access to tenant metadata stored in the host database.
type Registry interface {
	GetByID(ctx context.Context, tenantID int64) (*Tenant, error)
	ListActive(ctx context.Context) ([]*Tenant, error)
	ListAll(ctx context.Context) ([]*Tenant, error)
	// Create inserts a new tenant row and populates its ID.
	Create(ctx context.Context, in CreateInput) (*Tenant, error)
	UpdateStatus(ctx context.Context, tenantID int64, status Status) error
}

// PostgresRegistry implements Registry on the host PostgreSQL database.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

const tenantColumns = `id, name, connection_string, status, created_at`

func (r *PostgresRegistry) GetByID(ctx context.Context, tenantID int64) (*Tenant, error) {
	var t Tenant
	err := pgxscan.Get(ctx, r.pool, &t, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1
	`, tenantID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant by id: %w", err)
	}
	return &t, nil
}

func (r *PostgresRegistry) ListActive(ctx context.Context) ([]*Tenant, error) {
	var tenants []*Tenant
	err := pgxscan.Select(ctx, r.pool, &tenants, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE status = $1
		ORDER BY id
	`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}

func (r *PostgresRegistry) ListAll(ctx context.Context) ([]*Tenant, error) {
	var tenants []*Tenant
	err := pgxscan.Select(ctx, r.pool, &tenants, `
		SELECT `+tenantColumns+`
		FROM tenants
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

func (r *PostgresRegistry) Create(ctx context.Context, in CreateInput) (*Tenant, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var conn *string
	if in.ConnectionString != "" {
		conn = &in.ConnectionString
	}

	var t Tenant
	err := pgxscan.Get(ctx, r.pool, &t, `
		INSERT INTO tenants (name, connection_string, status)
		VALUES ($1, $2, $3)
		RETURNING `+tenantColumns, in.Name, conn, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return &t, nil
}

func (r *PostgresRegistry) UpdateStatus(ctx context.Context, tenantID int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tenants
		SET status = $2
		WHERE id = $1
	`, tenantID, status)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

var _ Registry = (*PostgresRegistry)(nil)
