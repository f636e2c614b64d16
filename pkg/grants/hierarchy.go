package grants

// Hierarchy rules between table-level and field-level grants. Everything in
// this file is pure decision logic; the store executes the mutations these
// functions derive.
//
// The stored field flags are never rewritten by masking alone: a field whose
// table lost READ access keeps its stored values and is masked at resolution
// time. Only explicit transitions (table READ/UPDATE turning off) cascade
// into stored field rows.

// FieldCascade describes the field-row mutations a table-flag transition
// requires to keep the hierarchy consistent.
type FieldCascade struct {
	// ForceViewOff sets can_view=false and can_edit=false on every field
	// row under the table. Triggered by READ true->false.
	ForceViewOff bool
	// ForceEditOff sets can_edit=false on every field row, leaving
	// can_view untouched. Triggered by UPDATE true->false.
	ForceEditOff bool
}

// Empty reports whether the transition requires no field mutations.
func (c FieldCascade) Empty() bool {
	return !c.ForceViewOff && !c.ForceEditOff
}

// TableTransition derives the field cascade required when a table's flags
// change from current to proposed.
func TableTransition(current, proposed TableFlags) FieldCascade {
	var c FieldCascade
	if current.CanRead && !proposed.CanRead {
		c.ForceViewOff = true
	}
	if current.CanUpdate && !proposed.CanUpdate {
		c.ForceEditOff = true
	}
	return c
}

// ValidateFieldChange checks a proposed field-flag write against the owning
// table's current flags and returns the flags to persist.
//
// Rules, in order:
//   - can_view=false forces can_edit=false regardless of the caller's
//     supplied edit value;
//   - can_edit=true with can_view=false in the same write is rejected;
//   - can_edit=true requires the table to hold READ and UPDATE access.
func ValidateFieldChange(table TableFlags, proposed FieldFlags) (FieldFlags, error) {
	if !proposed.CanView {
		proposed.CanEdit = false
		return proposed, nil
	}
	if proposed.CanEdit {
		if !table.CanRead || !table.CanUpdate {
			return FieldFlags{}, invalidTransitionf("field edit requires table read and update access")
		}
	}
	return proposed, nil
}

// MaskFieldFlags computes the effective view/edit rights of a field under its
// table's flags. Effective VIEW requires table READ; effective EDIT requires
// table READ and UPDATE.
func MaskFieldFlags(table TableFlags, field FieldFlags) FieldFlags {
	return FieldFlags{
		CanView: field.CanView && table.CanRead,
		CanEdit: field.CanEdit && table.CanRead && table.CanUpdate,
	}
}

// CombineFieldFlags ORs two effective field-flag values. A field is viewable
// or editable if any contributing permission set grants it.
func CombineFieldFlags(a, b FieldFlags) FieldFlags {
	return FieldFlags{
		CanView: a.CanView || b.CanView,
		CanEdit: a.CanEdit || b.CanEdit,
	}
}

// CombineTableFlags ORs two table CRUD grants.
func CombineTableFlags(a, b TableFlags) TableFlags {
	return TableFlags{
		CanCreate: a.CanCreate || b.CanCreate,
		CanRead:   a.CanRead || b.CanRead,
		CanUpdate: a.CanUpdate || b.CanUpdate,
		CanDelete: a.CanDelete || b.CanDelete,
	}
}

// ApplyCascade returns the stored field flags after a table-flag cascade.
func ApplyCascade(field FieldFlags, c FieldCascade) FieldFlags {
	if c.ForceViewOff {
		return FieldFlags{}
	}
	if c.ForceEditOff {
		field.CanEdit = false
	}
	return field
}
