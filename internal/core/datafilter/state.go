// Package datafilter defines the named query filters, their per-call state
// and the predicates built from entity capabilities.
package datafilter

import (
	"fmt"
	"strconv"
	"strings"
)

// Name identifies a data filter.
type Name string

const (
	SoftDelete     Name = "SoftDelete"
	MayHaveTenant  Name = "MayHaveTenant"
	MustHaveTenant Name = "MustHaveTenant"
)

// Names lists every filter in signature order.
func Names() []Name {
	return []Name{SoftDelete, MayHaveTenant, MustHaveTenant}
}

// ParseName resolves a filter name case-insensitively.
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	for _, n := range Names() {
		if strings.EqualFold(s, string(n)) {
			return n, nil
		}
	}
	return "", fmt.Errorf("unknown data filter %q", s)
}

// Toggles is the enable/disable switch set of one call chain.
// The zero value has every filter enabled.
type Toggles struct {
	softDeleteOff     bool
	mayHaveTenantOff  bool
	mustHaveTenantOff bool
}

// Enabled reports whether the filter is on. Unknown names report false.
func (t Toggles) Enabled(n Name) bool {
	switch n {
	case SoftDelete:
		return !t.softDeleteOff
	case MayHaveTenant:
		return !t.mayHaveTenantOff
	case MustHaveTenant:
		return !t.mustHaveTenantOff
	}
	return false
}

// With returns a copy with the filter switched. Unknown names are ignored.
func (t Toggles) With(n Name, enabled bool) Toggles {
	switch n {
	case SoftDelete:
		t.softDeleteOff = !enabled
	case MayHaveTenant:
		t.mayHaveTenantOff = !enabled
	case MustHaveTenant:
		t.mustHaveTenantOff = !enabled
	}
	return t
}

// State is everything a filter predicate may read at call time.
type State struct {
	TenantID *int64
	Toggles  Toggles
}

// Signature renders the state as "{tenantId}:{softDelete}:{mayHaveTenant}:{mustHaveTenant}".
// A host (nil) tenant renders as an empty segment.
func (s State) Signature() string {
	var b strings.Builder
	if s.TenantID != nil {
		b.WriteString(strconv.FormatInt(*s.TenantID, 10))
	}
	for _, n := range Names() {
		b.WriteByte(':')
		b.WriteString(strconv.FormatBool(s.Toggles.Enabled(n)))
	}
	return b.String()
}
