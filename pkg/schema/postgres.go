package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresIntrospector reads column metadata from information_schema of the
// managed application database.
type PostgresIntrospector struct {
	db         *sql.DB
	schemaName string
}

// NewPostgresIntrospector creates an introspector against db. schemaName
// defaults to "public" when empty.
func NewPostgresIntrospector(db *sql.DB, schemaName string) *PostgresIntrospector {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresIntrospector{db: db, schemaName: schemaName}
}

// Columns returns the table's column names in ordinal order.
func (p *PostgresIntrospector) Columns(ctx context.Context, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position ASC
	`

	rows, err := p.db.QueryContext(ctx, query, p.schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s: %w", p.schemaName, tableName, ErrUnknownTable)
	}
	return columns, nil
}
