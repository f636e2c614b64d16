package grants

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/accessdesk/accessdesk/pkg/schema"
)

const (
	minNameLen        = 2
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// querier is the subset of *sql.DB / *sql.Tx the store operations need, so
// the same code runs standalone or inside a staged-session transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles grant-model persistence: permission sets, table and field
// grants, and the profile/user assignment edges.
type Store struct {
	db      *sql.DB
	intro   schema.Introspector
	metrics MetricsRecorder
}

// NewStore creates a grant store over db. The introspector seeds field rows
// on table attach.
func NewStore(db *sql.DB, intro schema.Introspector) *Store {
	return &Store{db: db, intro: intro, metrics: nopMetrics{}}
}

// SetMetrics routes mutation and cascade measurements to m. Passing nil
// restores the no-op recorder.
func (s *Store) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = nopMetrics{}
	}
	s.metrics = m
}

// Txn exposes store mutations bound to a single database transaction.
// Obtained through InTransaction; used by the staged edit session so one
// commit applies every pending operation atomically.
type Txn struct {
	s  *Store
	tx *sql.Tx
}

// InTransaction runs fn inside one transaction. Any error rolls the whole
// transaction back; partial application is never observable.
func (s *Store) InTransaction(ctx context.Context, fn func(*Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Txn{s: s, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreatePermissionSet creates a named permission set. The name must be
// unique; duplicates fail with ErrConflict before any side effect.
func (s *Store) CreatePermissionSet(ctx context.Context, name, description string) (*PermissionSet, error) {
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return nil, fmt.Errorf("permission set name must be %d-%d characters", minNameLen, maxNameLen)
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return nil, fmt.Errorf("permission set description must be at most %d characters", maxDescriptionLen)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permission_sets WHERE name = $1`, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check permission set name: %w", err)
	}
	if exists > 0 {
		return nil, conflictf("permission set %q", name)
	}

	now := time.Now().UTC()
	set := &PermissionSet{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO permission_sets (id, name, description, table_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)
	`, set.ID, set.Name, set.Description, now, now)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, conflictf("permission set %q", name)
		}
		return nil, fmt.Errorf("failed to create permission set: %w", err)
	}
	s.metrics.RecordMutation("set_create")
	return set, nil
}

// GetPermissionSet retrieves a permission set by id.
func (s *Store) GetPermissionSet(ctx context.Context, id string) (*PermissionSet, error) {
	return s.getPermissionSet(ctx, s.db, id)
}

func (s *Store) getPermissionSet(ctx context.Context, q querier, id string) (*PermissionSet, error) {
	var set PermissionSet
	err := q.QueryRowContext(ctx, `
		SELECT id, name, description, table_count, created_at, updated_at
		FROM permission_sets
		WHERE id = $1
	`, id).Scan(&set.ID, &set.Name, &set.Description, &set.TableCount, &set.CreatedAt, &set.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("permission set %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission set: %w", err)
	}
	return &set, nil
}

// GetPermissionSetByName retrieves a permission set by its unique name.
func (s *Store) GetPermissionSetByName(ctx context.Context, name string) (*PermissionSet, error) {
	var set PermissionSet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, table_count, created_at, updated_at
		FROM permission_sets
		WHERE name = $1
	`, name).Scan(&set.ID, &set.Name, &set.Description, &set.TableCount, &set.CreatedAt, &set.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("permission set %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission set: %w", err)
	}
	return &set, nil
}

// ListPermissionSets lists all permission sets ordered by name.
func (s *Store) ListPermissionSets(ctx context.Context) ([]PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, table_count, created_at, updated_at
		FROM permission_sets
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission sets: %w", err)
	}
	defer rows.Close()

	var sets []PermissionSet
	for rows.Next() {
		var set PermissionSet
		if err := rows.Scan(&set.ID, &set.Name, &set.Description, &set.TableCount, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// UpdatePermissionSet updates a set's name and description. Renaming onto an
// existing name fails with ErrConflict.
func (s *Store) UpdatePermissionSet(ctx context.Context, id, name, description string) error {
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return fmt.Errorf("permission set name must be %d-%d characters", minNameLen, maxNameLen)
	}
	if utf8.RuneCountInString(description) > maxDescriptionLen {
		return fmt.Errorf("permission set description must be at most %d characters", maxDescriptionLen)
	}

	var taken int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM permission_sets WHERE name = $1 AND id != $2`, name, id).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check permission set name: %w", err)
	}
	if taken > 0 {
		return conflictf("permission set %q", name)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE permission_sets SET name = $1, description = $2, updated_at = $3 WHERE id = $4
	`, name, description, time.Now().UTC(), id)
	if err != nil {
		if IsUniqueViolation(err) {
			return conflictf("permission set %q", name)
		}
		return fmt.Errorf("failed to update permission set: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFoundf("permission set %s", id)
	}
	s.metrics.RecordMutation("set_update")
	return nil
}

// DeletePermissionSet removes the set and cascades: field rows, table rows,
// profile edges, and user edges go first, all in one transaction. The report
// carries the dependent-row counts for administrator confirmation.
func (s *Store) DeletePermissionSet(ctx context.Context, id string) (*CascadeReport, error) {
	var report *CascadeReport
	err := s.InTransaction(ctx, func(txn *Txn) error {
		var err error
		report, err = txn.DeletePermissionSet(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMutation("set_delete")
	s.metrics.RecordCascade(report.TablesRemoved, report.FieldsRemoved, report.ProfilesUnassigned, report.UsersUnassigned)
	return report, nil
}

// DeletePermissionSet is the transactional form of Store.DeletePermissionSet.
func (t *Txn) DeletePermissionSet(ctx context.Context, id string) (*CascadeReport, error) {
	if _, err := t.s.getPermissionSet(ctx, t.tx, id); err != nil {
		return nil, err
	}

	report := &CascadeReport{}

	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM field_access
		WHERE table_access_id IN (SELECT id FROM table_access WHERE permission_set_id = $1)
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete field grants: %w", err)
	}
	n, _ := res.RowsAffected()
	report.FieldsRemoved = int(n)

	res, err = t.tx.ExecContext(ctx, `DELETE FROM table_access WHERE permission_set_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete table grants: %w", err)
	}
	n, _ = res.RowsAffected()
	report.TablesRemoved = int(n)

	res, err = t.tx.ExecContext(ctx, `DELETE FROM profile_permission_sets WHERE permission_set_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete profile assignments: %w", err)
	}
	n, _ = res.RowsAffected()
	report.ProfilesUnassigned = int(n)

	res, err = t.tx.ExecContext(ctx, `DELETE FROM user_permission_sets WHERE permission_set_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete user assignments: %w", err)
	}
	n, _ = res.RowsAffected()
	report.UsersUnassigned = int(n)

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM permission_sets WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("failed to delete permission set: %w", err)
	}
	return report, nil
}

// AttachTable attaches a table to a permission set, or updates the flags if
// already attached (second call's flags win). Field rows are seeded from the
// schema introspector with default view-only flags, skipping any that exist.
// Flag downgrades on a repeat attach cascade into the field rows. The whole
// operation is one transaction.
func (s *Store) AttachTable(ctx context.Context, setID, tableName string, flags TableFlags) (*TableAccess, error) {
	var ta *TableAccess
	err := s.InTransaction(ctx, func(txn *Txn) error {
		var err error
		ta, err = txn.AttachTable(ctx, setID, tableName, flags)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMutation("table_attach")
	return ta, nil
}

// AttachTable is the transactional form of Store.AttachTable.
func (t *Txn) AttachTable(ctx context.Context, setID, tableName string, flags TableFlags) (*TableAccess, error) {
	if _, err := t.s.getPermissionSet(ctx, t.tx, setID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing, err := t.s.findTableAccess(ctx, t.tx, setID, tableName)
	if err != nil {
		return nil, err
	}

	var ta *TableAccess
	if existing != nil {
		cascade := TableTransition(existing.TableFlags, flags)
		_, err = t.tx.ExecContext(ctx, `
			UPDATE table_access
			SET can_create = $1, can_read = $2, can_update = $3, can_delete = $4, updated_at = $5
			WHERE id = $6
		`, flags.CanCreate, flags.CanRead, flags.CanUpdate, flags.CanDelete, now, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to update table grant: %w", err)
		}
		if err := t.s.applyFieldCascade(ctx, t.tx, existing.ID, cascade, now); err != nil {
			return nil, err
		}
		existing.TableFlags = flags
		existing.UpdatedAt = now
		ta = existing
	} else {
		ta = &TableAccess{
			ID:              uuid.NewString(),
			PermissionSetID: setID,
			TableName:       tableName,
			TableFlags:      flags,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO table_access (id, permission_set_id, table_name, can_create, can_read, can_update, can_delete, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, ta.ID, ta.PermissionSetID, ta.TableName, flags.CanCreate, flags.CanRead, flags.CanUpdate, flags.CanDelete, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create table grant: %w", err)
		}
	}

	if err := t.s.seedFieldRows(ctx, t.tx, ta.ID, tableName, now); err != nil {
		return nil, err
	}
	if err := t.s.recomputeTableCount(ctx, t.tx, setID, now); err != nil {
		return nil, err
	}
	return ta, nil
}

// seedFieldRows inserts one default field row per physical column, skipping
// columns that already have a row.
func (s *Store) seedFieldRows(ctx context.Context, q querier, tableAccessID, tableName string, now time.Time) error {
	columns, err := s.intro.Columns(ctx, tableName)
	if err != nil {
		return fmt.Errorf("failed to enumerate columns of %s: %w", tableName, err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT field_name FROM field_access WHERE table_access_id = $1`, tableAccessID)
	if err != nil {
		return fmt.Errorf("failed to list existing field grants: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan field name: %w", err)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	defaults := DefaultFieldFlags()
	for _, column := range columns {
		if existing[column] {
			continue
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO field_access (id, table_access_id, field_name, can_view, can_edit, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.NewString(), tableAccessID, column, defaults.CanView, defaults.CanEdit, now, now)
		if err != nil {
			return fmt.Errorf("failed to seed field grant for %s: %w", column, err)
		}
	}
	return nil
}

// DetachTable removes a table grant and all its field rows atomically and
// returns the number of removed field rows.
func (s *Store) DetachTable(ctx context.Context, setID, tableAccessID string) (*CascadeReport, error) {
	var report *CascadeReport
	err := s.InTransaction(ctx, func(txn *Txn) error {
		var err error
		report, err = txn.DetachTable(ctx, setID, tableAccessID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMutation("table_detach")
	s.metrics.RecordCascade(report.TablesRemoved, report.FieldsRemoved, 0, 0)
	return report, nil
}

// DetachTable is the transactional form of Store.DetachTable. It fails with
// ErrNotFound when the table grant does not belong to the given set.
func (t *Txn) DetachTable(ctx context.Context, setID, tableAccessID string) (*CascadeReport, error) {
	var owner string
	err := t.tx.QueryRowContext(ctx,
		`SELECT permission_set_id FROM table_access WHERE id = $1`, tableAccessID).Scan(&owner)
	if err == sql.ErrNoRows || (err == nil && owner != setID) {
		return nil, notFoundf("table grant %s in permission set %s", tableAccessID, setID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table grant: %w", err)
	}

	report := &CascadeReport{TablesRemoved: 1}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM field_access WHERE table_access_id = $1`, tableAccessID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete field grants: %w", err)
	}
	n, _ := res.RowsAffected()
	report.FieldsRemoved = int(n)

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM table_access WHERE id = $1`, tableAccessID); err != nil {
		return nil, fmt.Errorf("failed to delete table grant: %w", err)
	}
	if err := t.s.recomputeTableCount(ctx, t.tx, setID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return report, nil
}

// UpdateTableFlags changes a table grant's CRUD flags. READ turning off
// forces view and edit off on every child field; UPDATE turning off forces
// edit off. Update and cascade run in one transaction.
func (s *Store) UpdateTableFlags(ctx context.Context, tableAccessID string, flags TableFlags) error {
	err := s.InTransaction(ctx, func(txn *Txn) error {
		return txn.UpdateTableFlags(ctx, tableAccessID, flags)
	})
	if err != nil {
		return err
	}
	s.metrics.RecordMutation("table_flags_update")
	return nil
}

// UpdateTableFlags is the transactional form of Store.UpdateTableFlags.
func (t *Txn) UpdateTableFlags(ctx context.Context, tableAccessID string, flags TableFlags) error {
	current, err := t.s.getTableAccess(ctx, t.tx, tableAccessID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	cascade := TableTransition(current.TableFlags, flags)
	_, err = t.tx.ExecContext(ctx, `
		UPDATE table_access
		SET can_create = $1, can_read = $2, can_update = $3, can_delete = $4, updated_at = $5
		WHERE id = $6
	`, flags.CanCreate, flags.CanRead, flags.CanUpdate, flags.CanDelete, now, tableAccessID)
	if err != nil {
		return fmt.Errorf("failed to update table grant: %w", err)
	}
	return t.s.applyFieldCascade(ctx, t.tx, tableAccessID, cascade, now)
}

func (s *Store) applyFieldCascade(ctx context.Context, q querier, tableAccessID string, c FieldCascade, now time.Time) error {
	if c.Empty() {
		return nil
	}
	if c.ForceViewOff {
		_, err := q.ExecContext(ctx, `
			UPDATE field_access SET can_view = $1, can_edit = $2, updated_at = $3 WHERE table_access_id = $4
		`, false, false, now, tableAccessID)
		if err != nil {
			return fmt.Errorf("failed to cascade view revocation: %w", err)
		}
		return nil
	}
	_, err := q.ExecContext(ctx, `
		UPDATE field_access SET can_edit = $1, updated_at = $2 WHERE table_access_id = $3
	`, false, now, tableAccessID)
	if err != nil {
		return fmt.Errorf("failed to cascade edit revocation: %w", err)
	}
	return nil
}

// UpdateFieldFlags changes a field grant's view/edit flags after validating
// them against the owning table's flags. Violations return
// ErrInvalidTransition without side effects.
func (s *Store) UpdateFieldFlags(ctx context.Context, fieldAccessID string, flags FieldFlags) error {
	if err := s.updateFieldFlags(ctx, s.db, fieldAccessID, flags); err != nil {
		return err
	}
	s.metrics.RecordMutation("field_flags_update")
	return nil
}

// UpdateFieldFlags is the transactional form of Store.UpdateFieldFlags.
func (t *Txn) UpdateFieldFlags(ctx context.Context, fieldAccessID string, flags FieldFlags) error {
	return t.s.updateFieldFlags(ctx, t.tx, fieldAccessID, flags)
}

func (s *Store) updateFieldFlags(ctx context.Context, q querier, fieldAccessID string, flags FieldFlags) error {
	var table TableFlags
	err := q.QueryRowContext(ctx, `
		SELECT t.can_create, t.can_read, t.can_update, t.can_delete
		FROM field_access f
		JOIN table_access t ON t.id = f.table_access_id
		WHERE f.id = $1
	`, fieldAccessID).Scan(&table.CanCreate, &table.CanRead, &table.CanUpdate, &table.CanDelete)
	if err == sql.ErrNoRows {
		return notFoundf("field grant %s", fieldAccessID)
	}
	if err != nil {
		return fmt.Errorf("failed to get field grant: %w", err)
	}

	accepted, err := ValidateFieldChange(table, flags)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		UPDATE field_access SET can_view = $1, can_edit = $2, updated_at = $3 WHERE id = $4
	`, accepted.CanView, accepted.CanEdit, time.Now().UTC(), fieldAccessID)
	if err != nil {
		return fmt.Errorf("failed to update field grant: %w", err)
	}
	return nil
}

// GetTableAccess retrieves a table grant by id.
func (s *Store) GetTableAccess(ctx context.Context, id string) (*TableAccess, error) {
	return s.getTableAccess(ctx, s.db, id)
}

func (s *Store) getTableAccess(ctx context.Context, q querier, id string) (*TableAccess, error) {
	var ta TableAccess
	err := q.QueryRowContext(ctx, `
		SELECT id, permission_set_id, table_name, can_create, can_read, can_update, can_delete, created_at, updated_at
		FROM table_access
		WHERE id = $1
	`, id).Scan(&ta.ID, &ta.PermissionSetID, &ta.TableName,
		&ta.CanCreate, &ta.CanRead, &ta.CanUpdate, &ta.CanDelete, &ta.CreatedAt, &ta.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("table grant %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get table grant: %w", err)
	}
	return &ta, nil
}

func (s *Store) findTableAccess(ctx context.Context, q querier, setID, tableName string) (*TableAccess, error) {
	var ta TableAccess
	err := q.QueryRowContext(ctx, `
		SELECT id, permission_set_id, table_name, can_create, can_read, can_update, can_delete, created_at, updated_at
		FROM table_access
		WHERE permission_set_id = $1 AND table_name = $2
	`, setID, tableName).Scan(&ta.ID, &ta.PermissionSetID, &ta.TableName,
		&ta.CanCreate, &ta.CanRead, &ta.CanUpdate, &ta.CanDelete, &ta.CreatedAt, &ta.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find table grant: %w", err)
	}
	return &ta, nil
}

// ListTableAccess lists a set's table grants ordered by table name.
func (s *Store) ListTableAccess(ctx context.Context, setID string) ([]TableAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, permission_set_id, table_name, can_create, can_read, can_update, can_delete, created_at, updated_at
		FROM table_access
		WHERE permission_set_id = $1
		ORDER BY table_name ASC
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to list table grants: %w", err)
	}
	defer rows.Close()

	var tables []TableAccess
	for rows.Next() {
		var ta TableAccess
		if err := rows.Scan(&ta.ID, &ta.PermissionSetID, &ta.TableName,
			&ta.CanCreate, &ta.CanRead, &ta.CanUpdate, &ta.CanDelete, &ta.CreatedAt, &ta.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table grant: %w", err)
		}
		tables = append(tables, ta)
	}
	return tables, rows.Err()
}

// GetFieldAccess retrieves a field grant by id.
func (s *Store) GetFieldAccess(ctx context.Context, id string) (*FieldAccess, error) {
	var fa FieldAccess
	err := s.db.QueryRowContext(ctx, `
		SELECT id, table_access_id, field_name, can_view, can_edit, created_at, updated_at
		FROM field_access
		WHERE id = $1
	`, id).Scan(&fa.ID, &fa.TableAccessID, &fa.FieldName, &fa.CanView, &fa.CanEdit, &fa.CreatedAt, &fa.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFoundf("field grant %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field grant: %w", err)
	}
	return &fa, nil
}

// ListFieldAccess lists a table grant's field rows ordered by field name.
func (s *Store) ListFieldAccess(ctx context.Context, tableAccessID string) ([]FieldAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_access_id, field_name, can_view, can_edit, created_at, updated_at
		FROM field_access
		WHERE table_access_id = $1
		ORDER BY field_name ASC
	`, tableAccessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field grants: %w", err)
	}
	defer rows.Close()

	var fields []FieldAccess
	for rows.Next() {
		var fa FieldAccess
		if err := rows.Scan(&fa.ID, &fa.TableAccessID, &fa.FieldName, &fa.CanView, &fa.CanEdit, &fa.CreatedAt, &fa.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan field grant: %w", err)
		}
		fields = append(fields, fa)
	}
	return fields, rows.Err()
}

// AssignPermissionSetToProfile attaches a set to a profile. Idempotent:
// repeating an existing assignment succeeds without creating a duplicate edge.
func (s *Store) AssignPermissionSetToProfile(ctx context.Context, profileID, setID string) error {
	if err := s.assignPermissionSetToProfile(ctx, s.db, profileID, setID); err != nil {
		return err
	}
	s.metrics.RecordMutation("profile_assign")
	return nil
}

// AssignPermissionSetToProfile is the transactional form.
func (t *Txn) AssignPermissionSetToProfile(ctx context.Context, profileID, setID string) error {
	return t.s.assignPermissionSetToProfile(ctx, t.tx, profileID, setID)
}

func (s *Store) assignPermissionSetToProfile(ctx context.Context, q querier, profileID, setID string) error {
	if _, err := s.getPermissionSet(ctx, q, setID); err != nil {
		return err
	}
	var profileExists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE id = $1`, profileID).Scan(&profileExists); err != nil {
		return fmt.Errorf("failed to check profile: %w", err)
	}
	if profileExists == 0 {
		return notFoundf("profile %s", profileID)
	}

	var edgeExists int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profile_permission_sets WHERE profile_id = $1 AND permission_set_id = $2`,
		profileID, setID).Scan(&edgeExists)
	if err != nil {
		return fmt.Errorf("failed to check profile assignment: %w", err)
	}
	if edgeExists > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO profile_permission_sets (id, profile_id, permission_set_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), profileID, setID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign permission set to profile: %w", err)
	}
	return nil
}

// UnassignPermissionSetFromProfile removes the edge. Removal of an absent
// edge is a successful no-op; the boolean reports whether a row was removed.
func (s *Store) UnassignPermissionSetFromProfile(ctx context.Context, profileID, setID string) (bool, error) {
	removed, err := s.unassignPermissionSetFromProfile(ctx, s.db, profileID, setID)
	if err == nil && removed {
		s.metrics.RecordMutation("profile_unassign")
	}
	return removed, err
}

// UnassignPermissionSetFromProfile is the transactional form.
func (t *Txn) UnassignPermissionSetFromProfile(ctx context.Context, profileID, setID string) (bool, error) {
	return t.s.unassignPermissionSetFromProfile(ctx, t.tx, profileID, setID)
}

func (s *Store) unassignPermissionSetFromProfile(ctx context.Context, q querier, profileID, setID string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM profile_permission_sets WHERE profile_id = $1 AND permission_set_id = $2`,
		profileID, setID)
	if err != nil {
		return false, fmt.Errorf("failed to unassign permission set from profile: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AssignPermissionSetToUser attaches a set directly to a user (or records a
// profile-sourced edge). The same set may be held through both sources at
// once; the rows stay distinct.
func (s *Store) AssignPermissionSetToUser(ctx context.Context, userID, setID string, source SourceType) error {
	if err := s.assignPermissionSetToUser(ctx, s.db, userID, setID, source); err != nil {
		return err
	}
	s.metrics.RecordMutation("user_assign")
	return nil
}

// AssignPermissionSetToUser is the transactional form.
func (t *Txn) AssignPermissionSetToUser(ctx context.Context, userID, setID string, source SourceType) error {
	return t.s.assignPermissionSetToUser(ctx, t.tx, userID, setID, source)
}

func (s *Store) assignPermissionSetToUser(ctx context.Context, q querier, userID, setID string, source SourceType) error {
	if !source.Valid() {
		return fmt.Errorf("invalid source type %q", source)
	}
	if _, err := s.getPermissionSet(ctx, q, setID); err != nil {
		return err
	}

	var edgeExists int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_permission_sets
		WHERE user_id = $1 AND permission_set_id = $2 AND source_type = $3
	`, userID, setID, string(source)).Scan(&edgeExists)
	if err != nil {
		return fmt.Errorf("failed to check user assignment: %w", err)
	}
	if edgeExists > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO user_permission_sets (id, user_id, permission_set_id, source_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), userID, setID, string(source), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign permission set to user: %w", err)
	}
	return nil
}

// UnassignPermissionSetFromUser removes the user edge matching the source
// filter. A direct grant is only ever removed by a call scoped to
// SourceDirect. Removal of an absent edge is a successful no-op.
func (s *Store) UnassignPermissionSetFromUser(ctx context.Context, userID, setID string, source SourceType) (bool, error) {
	removed, err := s.unassignPermissionSetFromUser(ctx, s.db, userID, setID, source)
	if err == nil && removed {
		s.metrics.RecordMutation("user_unassign")
	}
	return removed, err
}

// UnassignPermissionSetFromUser is the transactional form.
func (t *Txn) UnassignPermissionSetFromUser(ctx context.Context, userID, setID string, source SourceType) (bool, error) {
	return t.s.unassignPermissionSetFromUser(ctx, t.tx, userID, setID, source)
}

func (s *Store) unassignPermissionSetFromUser(ctx context.Context, q querier, userID, setID string, source SourceType) (bool, error) {
	if !source.Valid() {
		return false, fmt.Errorf("invalid source type %q", source)
	}
	res, err := q.ExecContext(ctx, `
		DELETE FROM user_permission_sets
		WHERE user_id = $1 AND permission_set_id = $2 AND source_type = $3
	`, userID, setID, string(source))
	if err != nil {
		return false, fmt.Errorf("failed to unassign permission set from user: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListProfilePermissionSets lists the sets attached to a profile.
func (s *Store) ListProfilePermissionSets(ctx context.Context, profileID string) ([]PermissionSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.id, ps.name, ps.description, ps.table_count, ps.created_at, ps.updated_at
		FROM permission_sets ps
		JOIN profile_permission_sets pps ON pps.permission_set_id = ps.id
		WHERE pps.profile_id = $1
		ORDER BY ps.name ASC
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile permission sets: %w", err)
	}
	defer rows.Close()

	var sets []PermissionSet
	for rows.Next() {
		var set PermissionSet
		if err := rows.Scan(&set.ID, &set.Name, &set.Description, &set.TableCount, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// ListUserPermissionSets lists the sets attached to a user with the given
// source filter.
func (s *Store) ListUserPermissionSets(ctx context.Context, userID string, source SourceType) ([]PermissionSet, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("invalid source type %q", source)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.id, ps.name, ps.description, ps.table_count, ps.created_at, ps.updated_at
		FROM permission_sets ps
		JOIN user_permission_sets ups ON ups.permission_set_id = ps.id
		WHERE ups.user_id = $1 AND ups.source_type = $2
		ORDER BY ps.name ASC
	`, userID, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to list user permission sets: %w", err)
	}
	defer rows.Close()

	var sets []PermissionSet
	for rows.Next() {
		var set PermissionSet
		if err := rows.Scan(&set.ID, &set.Name, &set.Description, &set.TableCount, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// RecomputeTableCount refreshes the denormalized table counter of a set.
// The staged session runs this at the end of its commit for every touched set.
func (t *Txn) RecomputeTableCount(ctx context.Context, setID string) error {
	return t.s.recomputeTableCount(ctx, t.tx, setID, time.Now().UTC())
}

func (s *Store) recomputeTableCount(ctx context.Context, q querier, setID string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE permission_sets
		SET table_count = (SELECT COUNT(*) FROM table_access WHERE permission_set_id = $1),
		    updated_at = $2
		WHERE id = $3
	`, setID, now, setID)
	if err != nil {
		return fmt.Errorf("failed to recompute table count: %w", err)
	}
	return nil
}
