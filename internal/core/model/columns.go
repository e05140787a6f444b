package model

import (
	"reflect"
	"sync"
)

// column is one db-tagged field, addressed by its index path so embedded
// structs resolve without recursion at call time.
type column struct {
	name  string
	index []int
}

// typeMetadata is computed once per struct type and then shared.
type typeMetadata struct {
	columns []column
	byName  map[string]column
}

var typeCache sync.Map // map[reflect.Type]*typeMetadata

func metadataOf(t reflect.Type) *typeMetadata {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := typeCache.Load(t); ok {
		return cached.(*typeMetadata)
	}

	meta := &typeMetadata{byName: make(map[string]column)}
	if t.Kind() == reflect.Struct {
		collectColumns(t, nil, meta)
	}
	actual, _ := typeCache.LoadOrStore(t, meta)
	return actual.(*typeMetadata)
}

func collectColumns(t reflect.Type, prefix []int, meta *typeMetadata) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectColumns(field.Type, index, meta)
			continue
		}
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		// First declaration of a column wins.
		if _, dup := meta.byName[tag]; dup {
			continue
		}
		c := column{name: tag, index: index}
		meta.columns = append(meta.columns, c)
		meta.byName[tag] = c
	}
}

// ColumnsOf returns the db-tagged columns of T in declaration order,
// embedded structs included.
func ColumnsOf[T any]() []string {
	var zero T
	return columnNames(reflect.TypeOf(zero))
}

func columnNames(t reflect.Type) []string {
	meta := metadataOf(t)
	out := make([]string, len(meta.columns))
	for i, c := range meta.columns {
		out[i] = c.name
	}
	return out
}

// StructToMap converts a struct (or pointer to struct) to column → value.
func StructToMap(v any) map[string]any {
	rv := structValue(v)
	if !rv.IsValid() {
		return nil
	}
	meta := metadataOf(rv.Type())
	res := make(map[string]any, len(meta.columns))
	for _, c := range meta.columns {
		res[c.name] = rv.FieldByIndex(c.index).Interface()
	}
	return res
}

// Values returns the values of the given columns in order.
// Unknown columns yield nil.
func Values(v any, cols []string) []any {
	rv := structValue(v)
	out := make([]any, len(cols))
	if !rv.IsValid() {
		return out
	}
	meta := metadataOf(rv.Type())
	for i, name := range cols {
		if c, ok := meta.byName[name]; ok {
			out[i] = rv.FieldByIndex(c.index).Interface()
		}
	}
	return out
}

// FieldPointer returns a pointer to the field mapped to col, suitable for
// scanning a RETURNING value. v must be a pointer to a struct.
func FieldPointer(v any, col string) (any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	rv = rv.Elem()
	c, ok := metadataOf(rv.Type()).byName[col]
	if !ok {
		return nil, false
	}
	return rv.FieldByIndex(c.index).Addr().Interface(), true
}

func hasColumn(t reflect.Type, col string) bool {
	_, ok := metadataOf(t).byName[col]
	return ok
}

func structValue(v any) reflect.Value {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return rv
}
