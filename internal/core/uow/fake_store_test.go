package uow

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"tenantdb/internal/core/model"
)

// fakeStore keeps committed rows in memory keyed by entity name and key.
type fakeStore struct {
	mu        sync.Mutex
	rows      map[string]map[string]any
	committed []string
	txCount   int
	// failOn makes the first write of that op fail with err
	failOn string
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]map[string]any)}
}

type staleRow struct{ entity string }

func (e *staleRow) Error() string             { return "stale row in " + e.entity }
func (e *staleRow) ConcurrencyConflict() bool { return true }
func (e *staleRow) Target() (string, any)     { return e.entity, "k" }

func rowKey(e *Entry) string {
	return e.Model.Name + "/" + fmt.Sprint(e.Key())
}

func (s *fakeStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.txCount++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &fakeTx{store: s}
	if err := fn(context.WithValue(ctx, fakeTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		op.apply(s)
		s.committed = append(s.committed, op.name)
	}
	return nil
}

type fakeTxKey struct{}

type fakeTx struct {
	store *fakeStore
	ops   []fakeOp
}

type fakeOp struct {
	name string
	key  string
	row  map[string]any
}

func (op fakeOp) apply(s *fakeStore) {
	if op.row == nil {
		delete(s.rows, op.key)
		return
	}
	s.rows[op.key] = op.row
}

func (s *fakeStore) record(ctx context.Context, name string, e *Entry, row map[string]any) error {
	if s.failOn == name && s.err != nil {
		err := s.err
		s.err = nil
		return err
	}
	tx := ctx.Value(fakeTxKey{}).(*fakeTx)
	tx.ops = append(tx.ops, fakeOp{name: name + " " + e.Model.Name, key: rowKey(e), row: row})
	return nil
}

func (s *fakeStore) Insert(ctx context.Context, e *Entry) error {
	return s.record(ctx, "insert", e, model.StructToMap(e.Entity))
}

func (s *fakeStore) Update(ctx context.Context, e *Entry) error {
	return s.record(ctx, "update", e, model.StructToMap(e.Entity))
}

func (s *fakeStore) Delete(ctx context.Context, e *Entry) error {
	return s.record(ctx, "delete", e, nil)
}

func (s *fakeStore) Reload(_ context.Context, e *Entry) error {
	s.mu.Lock()
	row, ok := s.rows[rowKey(e)]
	s.mu.Unlock()
	if !ok {
		return &staleRow{entity: e.Model.Name}
	}
	for col, v := range row {
		ptr, ok := model.FieldPointer(e.Entity, col)
		if !ok {
			continue
		}
		field := reflect.ValueOf(ptr).Elem()
		if v == nil {
			field.Set(reflect.Zero(field.Type()))
			continue
		}
		field.Set(reflect.ValueOf(v))
	}
	return nil
}

func (s *fakeStore) row(name string, key any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[name+"/"+fmt.Sprint(key)]
	return row, ok
}
