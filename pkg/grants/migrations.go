package grants

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all grant-schema migrations. IDs are
// client-generated UUIDs and timestamps are written by the application, so
// the DDL stays portable across the production and test drivers.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permission_sets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS permission_sets (
					id TEXT PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description VARCHAR(500),
					table_count INT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_permission_sets_name ON permission_sets(name);
			`,
		},
		{
			Version:     2,
			Description: "Create table_access table",
			SQL: `
				CREATE TABLE IF NOT EXISTS table_access (
					id TEXT PRIMARY KEY,
					permission_set_id TEXT NOT NULL REFERENCES permission_sets(id) ON DELETE CASCADE,
					table_name VARCHAR(255) NOT NULL,
					can_create BOOLEAN NOT NULL DEFAULT FALSE,
					can_read BOOLEAN NOT NULL DEFAULT FALSE,
					can_update BOOLEAN NOT NULL DEFAULT FALSE,
					can_delete BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(permission_set_id, table_name)
				);

				CREATE INDEX IF NOT EXISTS idx_table_access_set_id ON table_access(permission_set_id);
			`,
		},
		{
			Version:     3,
			Description: "Create field_access table",
			SQL: `
				CREATE TABLE IF NOT EXISTS field_access (
					id TEXT PRIMARY KEY,
					table_access_id TEXT NOT NULL REFERENCES table_access(id) ON DELETE CASCADE,
					field_name VARCHAR(255) NOT NULL,
					can_view BOOLEAN NOT NULL DEFAULT TRUE,
					can_edit BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(table_access_id, field_name)
				);

				CREATE INDEX IF NOT EXISTS idx_field_access_table_id ON field_access(table_access_id);
			`,
		},
		{
			Version:     4,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					id TEXT PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description VARCHAR(500),
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     5,
			Description: "Create profile_permission_sets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profile_permission_sets (
					id TEXT PRIMARY KEY,
					profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					permission_set_id TEXT NOT NULL REFERENCES permission_sets(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(profile_id, permission_set_id)
				);

				CREATE INDEX IF NOT EXISTS idx_profile_sets_profile_id ON profile_permission_sets(profile_id);
				CREATE INDEX IF NOT EXISTS idx_profile_sets_set_id ON profile_permission_sets(permission_set_id);
			`,
		},
		{
			Version:     6,
			Description: "Create user_permission_sets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permission_sets (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					permission_set_id TEXT NOT NULL REFERENCES permission_sets(id) ON DELETE CASCADE,
					source_type VARCHAR(20) NOT NULL,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(user_id, permission_set_id, source_type)
				);

				CREATE INDEX IF NOT EXISTS idx_user_sets_user_id ON user_permission_sets(user_id);
				CREATE INDEX IF NOT EXISTS idx_user_sets_set_id ON user_permission_sets(permission_set_id);
			`,
		},
		{
			Version:     7,
			Description: "Create user_profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_profiles (
					user_id TEXT PRIMARY KEY,
					profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
					assigned_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_user_profiles_profile_id ON user_profiles(profile_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	// Create migration tracking table
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS grants_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM grants_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO grants_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
