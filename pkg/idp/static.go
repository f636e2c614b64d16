package idp

import (
	"context"
	"fmt"
	"net/http"
)

// StaticDirectory is a fixed-user Directory for tests and local
// development. Tokens are the user IDs themselves.
type StaticDirectory struct {
	users map[string]*User
}

// NewStaticDirectory builds a directory over a fixed user list
func NewStaticDirectory(users ...*User) *StaticDirectory {
	m := make(map[string]*User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &StaticDirectory{users: m}
}

// AddUser registers another user
func (d *StaticDirectory) AddUser(u *User) {
	d.users[u.ID] = u
}

// InitiateLogin is unsupported for the static directory
func (d *StaticDirectory) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	return fmt.Errorf("static directory does not support login redirects")
}

// HandleCallback is unsupported for the static directory
func (d *StaticDirectory) HandleCallback(w http.ResponseWriter, r *http.Request) (*User, error) {
	return nil, fmt.Errorf("static directory does not support login callbacks")
}

// VerifyToken treats the token as a user ID
func (d *StaticDirectory) VerifyToken(ctx context.Context, rawToken string) (*User, error) {
	if u, ok := d.users[rawToken]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("token %q: %w", rawToken, ErrUserNotFound)
}
