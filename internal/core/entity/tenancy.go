package entity

// MustHaveTenantField marks an entity as mandatorily tenant-scoped.
// Zero means "not stamped yet"; tenant ids start at 1.
type MustHaveTenantField struct {
	TenantID int64 `db:"tenant_id" json:"tenantId"`
}

// GetTenantID returns nil until the tenant is stamped.
func (m *MustHaveTenantField) GetTenantID() *int64 {
	if m.TenantID == 0 {
		return nil
	}
	v := m.TenantID
	return &v
}

// SetTenantID assigns the tenant; nil resets to unset.
func (m *MustHaveTenantField) SetTenantID(id *int64) {
	if id == nil {
		m.TenantID = 0
		return
	}
	m.TenantID = *id
}

func (*MustHaveTenantField) mustHaveTenant() {}

// MayHaveTenantField marks an entity as optionally tenant-scoped.
type MayHaveTenantField struct {
	TenantID *int64 `db:"tenant_id" json:"tenantId,omitempty"`
}

// GetTenantID returns nil for host-owned rows.
func (m *MayHaveTenantField) GetTenantID() *int64 {
	return m.TenantID
}

// SetTenantID assigns the tenant.
func (m *MayHaveTenantField) SetTenantID(id *int64) {
	if id == nil {
		m.TenantID = nil
		return
	}
	v := *id
	m.TenantID = &v
}

func (*MayHaveTenantField) mayHaveTenant() {}
