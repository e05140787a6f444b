package sqlstore

import "fmt"

// StaleRowError is returned when a write or reload matched no row: the row
// was changed (version mismatch) or removed since it was read.
type StaleRowError struct {
	Op     string
	Entity string
	Key    any
}

func (e *StaleRowError) Error() string {
	return fmt.Sprintf("%s %s %v: row changed or removed concurrently", e.Op, e.Entity, e.Key)
}

// ConcurrencyConflict marks the error as an optimistic concurrency conflict.
func (e *StaleRowError) ConcurrencyConflict() bool { return true }

// Target names the row involved.
func (e *StaleRowError) Target() (string, any) { return e.Entity, e.Key }
