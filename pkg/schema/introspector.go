package schema

import (
	"context"
	"errors"
)

// ErrUnknownTable means the managed schema has no table with the given name.
var ErrUnknownTable = errors.New("unknown table")

// Introspector enumerates the physical columns of a table in the managed
// schema. The grant store consults it once per table-attach operation to
// seed field-level grant rows.
type Introspector interface {
	// Columns returns the ordered column names of tableName.
	Columns(ctx context.Context, tableName string) ([]string, error)
}
