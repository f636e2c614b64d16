package grants

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Error taxonomy for the grant model. Callers classify failures with
// errors.Is; store and service code wraps these with context via fmt.Errorf.
var (
	// ErrNotFound means a referenced permission set, table/field row,
	// profile, user, or assignment edge does not exist. Unassign of a
	// missing edge is NOT an error (idempotent removal).
	ErrNotFound = errors.New("not found")

	// ErrConflict is a uniqueness violation, e.g. a duplicate permission
	// set name.
	ErrConflict = errors.New("already exists")

	// ErrInvalidTransition is a proposed flag change that would violate
	// the table/field hierarchy, e.g. field EDIT without VIEW, or EDIT
	// when the owning table lacks UPDATE access.
	ErrInvalidTransition = errors.New("invalid flag transition")

	// ErrDependencyBlocked is a deletion refused because dependents remain,
	// for flows that do not auto-cascade.
	ErrDependencyBlocked = errors.New("dependents still attached")
)

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func invalidTransitionf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidTransition)...)
}

// IsUniqueViolation reports whether err is a driver-level unique-constraint
// violation. Name checks are check-then-insert, so a concurrent create can
// slip past the pre-check and surface here instead.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
