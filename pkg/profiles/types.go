package profiles

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the referenced profile or assignment does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation, such as a duplicate profile name.
	ErrConflict = errors.New("conflict")
)

// Profile is a named bundle of permission sets assigned to users. A user
// holds at most one profile at a time.
type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserProfile records a user's current profile assignment
type UserProfile struct {
	UserID     string    `json:"user_id"`
	ProfileID  string    `json:"profile_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// DeleteReport counts the rows removed when a profile is deleted
type DeleteReport struct {
	SetsUnassigned  int `json:"sets_unassigned"`
	UsersUnassigned int `json:"users_unassigned"`
}
