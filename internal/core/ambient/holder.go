// Package ambient carries "the value currently in effect" along a call chain.
//
// The scope of a value is the context returned by Use: everything called
// with that context (or a context derived from it) observes the value, and
// the caller's own context keeps observing whatever was in effect before.
// Restoring on exit therefore needs no bookkeeping, including on error paths,
// and concurrent call chains never see each other's values.
package ambient

import "context"

// Holder is a typed, context-scoped slot. Each Holder has its own key, so
// independent holders never collide.
type Holder[T any] struct {
	key *holderKey
}

type holderKey struct {
	name string
}

// New creates a holder. The name is only used for debugging.
func New[T any](name string) *Holder[T] {
	return &Holder[T]{key: &holderKey{name: name}}
}

// Use returns a context in which Current yields v.
func (h *Holder[T]) Use(ctx context.Context, v T) context.Context {
	return context.WithValue(ctx, h.key, v)
}

// Current returns the innermost value set with Use, or the zero value and
// false when none was set on this call chain.
func (h *Holder[T]) Current(ctx context.Context) (T, bool) {
	v, ok := ctx.Value(h.key).(T)
	return v, ok
}

// String returns the holder name.
func (h *Holder[T]) String() string {
	return h.key.name
}
