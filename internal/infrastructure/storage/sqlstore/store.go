package sqlstore

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/entity"
	"tenantdb/internal/core/model"
	"tenantdb/internal/core/uow"
)

// Compile-time checks.
var (
	_ uow.Store         = (*Store)(nil)
	_ uow.StoreProvider = (*Provider)(nil)
)

// Store writes tracked entries to one database.
type Store struct {
	conn Conn
	sb   squirrel.StatementBuilderType
}

// NewStore creates a store over conn.
func NewStore(conn Conn) *Store {
	return &Store{conn: conn, sb: Builder(conn)}
}

// RunInTransaction implements uow.Store.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.conn.RunInTransaction(ctx, fn)
}

// Insert writes a new row. Versioned entities start at version 1;
// database-generated keys are read back into the entity.
func (s *Store) Insert(ctx context.Context, e *uow.Entry) error {
	d := e.Model
	if v, ok := e.Entity.(entity.Versioned); ok && v.GetVersion() == 0 {
		v.SetVersion(1)
	}

	cols := d.InsertColumns()
	q := s.sb.Insert(d.Table).Columns(cols...).Values(model.Values(e.Entity, cols)...)

	if d.KeyGeneration == model.KeyDatabase {
		dst, ok := model.FieldPointer(e.Entity, d.KeyColumn)
		if !ok {
			return fmt.Errorf("insert %s: key column %q not addressable", d.Name, d.KeyColumn)
		}
		sql, args, err := q.Suffix("RETURNING " + d.KeyColumn).ToSql()
		if err != nil {
			return fmt.Errorf("build insert %s: %w", d.Name, err)
		}
		if err := s.conn.Querier(ctx).Get(ctx, dst, sql, args...); err != nil {
			return fmt.Errorf("insert %s: %w", d.Name, err)
		}
		return nil
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", d.Name, err)
	}
	if _, err := s.conn.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", d.Name, err)
	}
	return nil
}

// Update writes all mapped columns. Versioned entities are checked against
// the version they were read with and bumped on success.
func (s *Store) Update(ctx context.Context, e *uow.Entry) error {
	d := e.Model
	key := d.Key(e.Entity)
	cols := d.UpdateColumns()
	vals := model.Values(e.Entity, cols)

	q := s.sb.Update(d.Table)
	for i, c := range cols {
		q = q.Set(c, vals[i])
	}
	q = q.Where(squirrel.Eq{d.KeyColumn: key})

	versioned, _ := e.Entity.(entity.Versioned)
	if d.Versioned() && versioned != nil {
		current := versioned.GetVersion()
		q = q.Set(d.VersionColumn, current+1).Where(squirrel.Eq{d.VersionColumn: current})
	}

	if err := s.execOne(ctx, "update", d, key, q); err != nil {
		return err
	}
	if d.Versioned() && versioned != nil {
		versioned.SetVersion(versioned.GetVersion() + 1)
	}
	return nil
}

// Delete removes the row, checking the version when the entity has one.
func (s *Store) Delete(ctx context.Context, e *uow.Entry) error {
	d := e.Model
	key := d.Key(e.Entity)
	q := s.sb.Delete(d.Table).Where(squirrel.Eq{d.KeyColumn: key})
	if v, ok := e.Entity.(entity.Versioned); ok && d.Versioned() {
		q = q.Where(squirrel.Eq{d.VersionColumn: v.GetVersion()})
	}
	return s.execOne(ctx, "delete", d, key, q)
}

// Reload re-reads the row by key, bypassing query filters.
func (s *Store) Reload(ctx context.Context, e *uow.Entry) error {
	d := e.Model
	key := d.Key(e.Entity)
	sql, args, err := s.sb.Select(d.Columns...).From(d.Table).
		Where(squirrel.Eq{d.KeyColumn: key}).ToSql()
	if err != nil {
		return fmt.Errorf("build reload %s: %w", d.Name, err)
	}
	if err := s.conn.Querier(ctx).Get(ctx, e.Entity, sql, args...); err != nil {
		if s.conn.IsNotFound(err) {
			return &StaleRowError{Op: "reload", Entity: d.Name, Key: key}
		}
		return fmt.Errorf("reload %s: %w", d.Name, err)
	}
	return nil
}

func (s *Store) execOne(ctx context.Context, op string, d *model.Descriptor, key any, q squirrel.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s %s: %w", op, d.Name, err)
	}
	n, err := s.conn.Querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, d.Name, err)
	}
	if n == 0 {
		return &StaleRowError{Op: op, Entity: d.Name, Key: key}
	}
	return nil
}

// Provider resolves a Store per save through a Router.
type Provider struct {
	router Router
}

// NewProvider creates a uow.StoreProvider.
func NewProvider(router Router) *Provider {
	return &Provider{router: router}
}

// Store implements uow.StoreProvider.
func (p *Provider) Store(ctx context.Context) (uow.Store, error) {
	conn, err := p.router.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(conn), nil
}
