package grants

import (
	"time"
)

// PermissionSet is a named, reusable bundle of table- and field-level grants.
// TableCount is denormalized and kept equal to the live number of TableAccess
// rows by the store.
type PermissionSet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TableCount  int       `json:"table_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableFlags are the CRUD grants a permission set holds for one table.
type TableFlags struct {
	CanCreate bool `json:"can_create"`
	CanRead   bool `json:"can_read"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

// TableAccess grants table-level CRUD for one physical table. Unique per
// (PermissionSetID, TableName).
type TableAccess struct {
	ID              string    `json:"id"`
	PermissionSetID string    `json:"permission_set_id"`
	TableName       string    `json:"table_name"`
	TableFlags
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldFlags are the view/edit grants for a single column.
type FieldFlags struct {
	CanView bool `json:"can_view"`
	CanEdit bool `json:"can_edit"`
}

// FieldAccess grants field-level view/edit for one column of a table covered
// by a TableAccess. Unique per (TableAccessID, FieldName). Rows are created
// automatically when a table is attached, one per physical column.
type FieldAccess struct {
	ID            string `json:"id"`
	TableAccessID string `json:"table_access_id"`
	FieldName     string `json:"field_name"`
	FieldFlags
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultFieldFlags are applied to every auto-created field row.
func DefaultFieldFlags() FieldFlags {
	return FieldFlags{CanView: true, CanEdit: false}
}

// SourceType identifies how a user reaches a permission set.
type SourceType string

const (
	SourceProfile SourceType = "profile"
	SourceDirect  SourceType = "direct"
)

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	return s == SourceProfile || s == SourceDirect
}

// EffectiveGrant is one entry of a user's resolved permission-set membership.
// A set reachable through both the profile and a direct grant appears twice,
// once per source.
type EffectiveGrant struct {
	PermissionSet PermissionSet `json:"permission_set"`
	Source        SourceType    `json:"source"`
}

// CascadeReport counts the dependent rows removed by a cascading delete.
// Surfaced to the audit sink and to administrator confirmation messages.
type CascadeReport struct {
	TablesRemoved      int `json:"tables_removed"`
	FieldsRemoved      int `json:"fields_removed"`
	ProfilesUnassigned int `json:"profiles_unassigned"`
	UsersUnassigned    int `json:"users_unassigned"`
}

// Total returns the combined number of removed dependent rows.
func (r CascadeReport) Total() int {
	return r.TablesRemoved + r.FieldsRemoved + r.ProfilesUnassigned + r.UsersUnassigned
}
