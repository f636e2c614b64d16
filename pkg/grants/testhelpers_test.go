package grants

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/accessdesk/accessdesk/pkg/schema"
)

// setupTestDB opens an in-memory sqlite database and applies the full
// migration set. The DDL is portable, so tests exercise the same schema the
// service runs against postgres.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// testIntrospector returns a static schema with the tables the tests attach.
func testIntrospector() *schema.StaticIntrospector {
	return schema.NewStaticIntrospector(map[string][]string{
		"orders":    {"id", "customer_id", "total", "status"},
		"customers": {"id", "name", "email"},
		"invoices":  {"id", "order_id", "amount"},
	})
}

func setupTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db, testIntrospector()), db
}

func mustCreateSet(t *testing.T, store *Store, name string) *PermissionSet {
	t.Helper()
	set, err := store.CreatePermissionSet(context.Background(), name, "")
	if err != nil {
		t.Fatalf("Failed to create permission set %q: %v", name, err)
	}
	return set
}

func mustAttachTable(t *testing.T, store *Store, setID, tableName string, flags TableFlags) *TableAccess {
	t.Helper()
	ta, err := store.AttachTable(context.Background(), setID, tableName, flags)
	if err != nil {
		t.Fatalf("Failed to attach table %q: %v", tableName, err)
	}
	return ta
}

// fieldByName finds one field row of a table grant.
func fieldByName(t *testing.T, store *Store, tableAccessID, name string) *FieldAccess {
	t.Helper()
	fields, err := store.ListFieldAccess(context.Background(), tableAccessID)
	if err != nil {
		t.Fatalf("Failed to list field grants: %v", err)
	}
	for i := range fields {
		if fields[i].FieldName == name {
			return &fields[i]
		}
	}
	t.Fatalf("Field %q not found under table grant %s", name, tableAccessID)
	return nil
}

// createTestProfile inserts a bare profile row for assignment tests. The
// profiles package owns the full lifecycle; the store only needs the row to
// exist.
func createTestProfile(t *testing.T, db *sql.DB, id, name string) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO profiles (id, name, description, created_at, updated_at)
		VALUES ($1, $2, '', $3, $4)
	`, id, name, now, now)
	if err != nil {
		t.Fatalf("Failed to create test profile: %v", err)
	}
}

// assignTestUserProfile points a user at a profile directly in the database.
func assignTestUserProfile(t *testing.T, db *sql.DB, userID, profileID string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO user_profiles (user_id, profile_id, assigned_at)
		VALUES ($1, $2, $3)
	`, userID, profileID, time.Now().UTC())
	if err != nil {
		t.Fatalf("Failed to assign test profile: %v", err)
	}
}
