// Package tx defines the transaction contract shared by the SQL drivers.
// Transactions travel in the context, so code below a RunInTransaction call
// joins the transaction by passing ctx along.
package tx

import (
	"context"
)

// Manager runs fn inside a transaction: committed when fn returns nil,
// rolled back otherwise. Nested calls on the same manager reuse the
// transaction already carried by ctx.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager adds read-only transactions for drivers that support them.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
