package schema

import (
	"context"
	"fmt"
)

// StaticIntrospector serves column lists from a fixed map. Used in tests and
// in development environments without a managed database.
type StaticIntrospector struct {
	tables map[string][]string
}

// NewStaticIntrospector creates an introspector over the given table map.
func NewStaticIntrospector(tables map[string][]string) *StaticIntrospector {
	copied := make(map[string][]string, len(tables))
	for name, cols := range tables {
		copied[name] = append([]string(nil), cols...)
	}
	return &StaticIntrospector{tables: copied}
}

// Columns returns the configured columns for tableName.
func (s *StaticIntrospector) Columns(_ context.Context, tableName string) ([]string, error) {
	cols, ok := s.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", tableName, ErrUnknownTable)
	}
	return append([]string(nil), cols...), nil
}

// AddTable registers or replaces a table definition.
func (s *StaticIntrospector) AddTable(tableName string, columns ...string) {
	s.tables[tableName] = append([]string(nil), columns...)
}
