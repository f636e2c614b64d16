package grants

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Run("sqlite duplicate insert", func(t *testing.T) {
		db := setupTestDB(t)

		if _, err := db.Exec(
			`INSERT INTO permission_sets (id, name, description, table_count, created_at, updated_at)
			 VALUES ('ps-1', 'Sales', '', 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`); err != nil {
			t.Fatalf("first insert failed: %v", err)
		}

		_, err := db.Exec(
			`INSERT INTO permission_sets (id, name, description, table_count, created_at, updated_at)
			 VALUES ('ps-2', 'Sales', '', 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		if err == nil {
			t.Fatal("expected unique violation")
		}
		if !IsUniqueViolation(err) {
			t.Errorf("expected unique violation classification for %v", err)
		}
	})

	t.Run("postgres unique violation code", func(t *testing.T) {
		err := &pq.Error{Code: "23505"}
		if !IsUniqueViolation(err) {
			t.Error("expected 23505 to classify as unique violation")
		}
	})

	t.Run("other postgres error", func(t *testing.T) {
		err := &pq.Error{Code: "40001"}
		if IsUniqueViolation(err) {
			t.Error("serialization failure is not a unique violation")
		}
	})

	t.Run("unrelated errors", func(t *testing.T) {
		if IsUniqueViolation(nil) {
			t.Error("nil is not a unique violation")
		}
		if IsUniqueViolation(errors.New("connection reset")) {
			t.Error("plain error is not a unique violation")
		}

		db := setupTestDB(t)
		_, err := db.Exec(`INSERT INTO no_such_table (id) VALUES (1)`)
		if err == nil {
			t.Fatal("expected query error")
		}
		if IsUniqueViolation(err) {
			t.Errorf("missing table is not a unique violation: %v", err)
		}
	})
}
