package entity

import "time"

// Audited holds creation and modification audit columns.
type Audited struct {
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy *int64     `db:"created_by" json:"createdBy,omitempty"`
	UpdatedAt *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy *int64     `db:"updated_by" json:"updatedBy,omitempty"`
}

// StampCreated sets creation fields unless the caller already did.
func (a *Audited) StampCreated(at time.Time, by *int64) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = at
	}
	if a.CreatedBy == nil && by != nil {
		v := *by
		a.CreatedBy = &v
	}
}

// StampModified always overwrites modification fields.
func (a *Audited) StampModified(at time.Time, by *int64) {
	a.UpdatedAt = &at
	a.UpdatedBy = by
}

// SoftDeleteFields implements SoftDeletable.
type SoftDeleteFields struct {
	Deleted   bool       `db:"is_deleted" json:"isDeleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy *int64     `db:"deleted_by" json:"deletedBy,omitempty"`
}

// IsDeleted reports the soft-delete flag.
func (s *SoftDeleteFields) IsDeleted() bool {
	return s.Deleted
}

// MarkDeleted sets the flag. Deletion audit fields keep the first
// deletion: they are stamped only while unset.
func (s *SoftDeleteFields) MarkDeleted(at time.Time, by *int64) {
	s.Deleted = true
	if s.DeletedAt == nil {
		s.DeletedAt = &at
		if s.DeletedBy == nil && by != nil {
			v := *by
			s.DeletedBy = &v
		}
	}
}

// Restore clears the soft-delete flag.
func (s *SoftDeleteFields) Restore() {
	s.Deleted = false
	s.DeletedAt = nil
	s.DeletedBy = nil
}
