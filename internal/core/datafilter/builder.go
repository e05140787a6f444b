package datafilter

import (
	"github.com/Masterminds/squirrel"

	"tenantdb/internal/core/entity"
)

// Columns names the marker columns a predicate refers to.
type Columns struct {
	TenantID  string
	IsDeleted string
}

// DefaultColumns matches the db tags of the entity base structs.
func DefaultColumns() Columns {
	return Columns{
		TenantID:  "tenant_id",
		IsDeleted: "is_deleted",
	}
}

// Predicate renders the visibility condition of one entity type for the
// given state. A nil result means every row is visible.
type Predicate func(State) squirrel.Sqlizer

// Build combines the rules of every capability into one predicate.
// Returns nil when caps carries no filterable capability.
func Build(caps entity.Capability, cols Columns) Predicate {
	var rules []Predicate
	if caps.Has(entity.SoftDelete) {
		rules = append(rules, softDeleteRule(cols.IsDeleted))
	}
	if caps.Has(entity.MayHaveTenant) {
		rules = append(rules, mayHaveTenantRule(cols.TenantID))
	}
	if caps.Has(entity.MustHaveTenant) {
		rules = append(rules, mustHaveTenantRule(cols.TenantID))
	}
	if len(rules) == 0 {
		return nil
	}

	return func(s State) squirrel.Sqlizer {
		var and squirrel.And
		for _, rule := range rules {
			if cond := rule(s); cond != nil {
				and = append(and, cond)
			}
		}
		if len(and) == 0 {
			return nil
		}
		return and
	}
}

// Visible unless the filter is on and the row is flagged deleted.
func softDeleteRule(col string) Predicate {
	return func(s State) squirrel.Sqlizer {
		if !s.Toggles.Enabled(SoftDelete) {
			return nil
		}
		return squirrel.Eq{col: false}
	}
}

// Visible unless the filter is on and the row tenant differs (null-safe).
func mayHaveTenantRule(col string) Predicate {
	return func(s State) squirrel.Sqlizer {
		if !s.Toggles.Enabled(MayHaveTenant) {
			return nil
		}
		if s.TenantID == nil {
			return squirrel.Eq{col: nil}
		}
		return squirrel.Eq{col: *s.TenantID}
	}
}

// Visible unless a tenant is set, the filter is on and the row tenant differs.
func mustHaveTenantRule(col string) Predicate {
	return func(s State) squirrel.Sqlizer {
		if s.TenantID == nil || !s.Toggles.Enabled(MustHaveTenant) {
			return nil
		}
		return squirrel.Eq{col: *s.TenantID}
	}
}
