package sqlstore

import (
	"context"
	"fmt"
	"reflect"

	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/apperror"
	"tenantdb/internal/core/datafilter"
	"tenantdb/internal/core/model"
	"tenantdb/internal/core/querycache"
	"tenantdb/internal/core/uow"
)

// Query narrows a read. Where arguments are bound per call; everything
// else is part of the cached query shape.
type Query struct {
	Where   squirrel.Sqlizer
	OrderBy []string
	Limit   uint64
	Offset  uint64
}

// Repository reads entities of type T with the data filters of T applied
// in SQL, using the filter state of the ambient unit of work.
type Repository[T any] struct {
	router Router
	model  *model.Descriptor
	cache  *querycache.Cache
	keys   *querycache.FilterStateKeyGenerator
}

// NewRepository builds a repository for the registered type T.
func NewRepository[T any](router Router, registry *model.Registry, cache *querycache.Cache) (*Repository[T], error) {
	var zero T
	d, ok := registry.Lookup(reflect.TypeOf(zero))
	if !ok {
		return nil, apperror.NewConfiguration(fmt.Sprintf("sqlstore: %T is not registered", zero))
	}
	if cache == nil {
		cache = querycache.New(0)
	}
	return &Repository[T]{
		router: router,
		model:  d,
		cache:  cache,
		keys:   querycache.NewFilterStateKeyGenerator(nil),
	}, nil
}

// Model returns the descriptor of T.
func (r *Repository[T]) Model() *model.Descriptor {
	return r.model
}

// Find returns all visible rows matching q.
func (r *Repository[T]) Find(ctx context.Context, q Query) ([]*T, error) {
	conn, err := r.router.Conn(ctx)
	if err != nil {
		return nil, err
	}
	plan, userArgs, err := r.plan(ctx, conn, "find", q, r.selectColumns(q))
	if err != nil {
		return nil, err
	}
	var out []*T
	if err := conn.Querier(ctx).Select(ctx, &out, plan.SQL, plan.Args(userArgs...)...); err != nil {
		return nil, fmt.Errorf("find %s: %w", r.model.Name, err)
	}
	return out, nil
}

// Get returns the visible row with the given key or a NOT_FOUND error.
func (r *Repository[T]) Get(ctx context.Context, key any) (*T, error) {
	rows, err := r.Find(ctx, Query{Where: squirrel.Eq{r.model.KeyColumn: key}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperror.NewNotFound(r.model.Name, key)
	}
	return rows[0], nil
}

// Count returns the number of visible rows matching q.
func (r *Repository[T]) Count(ctx context.Context, q Query) (int64, error) {
	conn, err := r.router.Conn(ctx)
	if err != nil {
		return 0, err
	}
	q.OrderBy, q.Limit, q.Offset = nil, 0, 0
	plan, userArgs, err := r.plan(ctx, conn, "count", q, func(sb squirrel.StatementBuilderType) squirrel.SelectBuilder {
		return sb.Select("COUNT(*)").From(r.model.Table)
	})
	if err != nil {
		return 0, err
	}
	var n int64
	if err := conn.Querier(ctx).Get(ctx, &n, plan.SQL, plan.Args(userArgs...)...); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.model.Name, err)
	}
	return n, nil
}

func (r *Repository[T]) selectColumns(q Query) func(sb squirrel.StatementBuilderType) squirrel.SelectBuilder {
	return func(sb squirrel.StatementBuilderType) squirrel.SelectBuilder {
		s := sb.Select(r.model.Columns...).From(r.model.Table)
		if len(q.OrderBy) > 0 {
			s = s.OrderBy(q.OrderBy...)
		}
		if q.Limit > 0 {
			s = s.Limit(q.Limit)
		}
		if q.Offset > 0 {
			s = s.Offset(q.Offset)
		}
		return s
	}
}

// plan returns the compiled plan for q under the ambient filter state and
// the per-call arguments of q. The filter clause comes first, so its
// frozen arguments precede the caller's.
func (r *Repository[T]) plan(
	ctx context.Context,
	conn Conn,
	kind string,
	q Query,
	base func(squirrel.StatementBuilderType) squirrel.SelectBuilder,
) (*querycache.Plan, []any, error) {
	shapeSB := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	shape := base(shapeSB)
	if q.Where != nil {
		shape = shape.Where(q.Where)
	}
	shapeSQL, userArgs, err := shape.ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build %s %s: %w", kind, r.model.Name, err)
	}

	state := uow.FilterState(ctx)
	key := r.keys.GenerateKey(querycache.Query{
		Entity: conn.Dialect().Name + ":" + r.model.Name + ":" + kind,
		Shape:  shapeSQL,
	}, state)

	plan, _, err := r.cache.GetOrCompile(key, func() (*querycache.Plan, error) {
		return r.compile(conn, q, base, state, len(userArgs))
	})
	if err != nil {
		return nil, nil, err
	}
	return plan, userArgs, nil
}

func (r *Repository[T]) compile(
	conn Conn,
	q Query,
	base func(squirrel.StatementBuilderType) squirrel.SelectBuilder,
	state datafilter.State,
	userArgCount int,
) (*querycache.Plan, error) {
	s := base(Builder(conn))
	if r.model.Filter != nil {
		if cond := r.model.Filter(state); cond != nil {
			s = s.Where(cond)
		}
	}
	if q.Where != nil {
		s = s.Where(q.Where)
	}
	sql, args, err := s.ToSql()
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", r.model.Name, err)
	}
	filterArgs := args[:len(args)-userArgCount]
	return &querycache.Plan{SQL: sql, FilterArgs: append([]any(nil), filterArgs...)}, nil
}
