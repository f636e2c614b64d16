package idp

import (
	"context"
	"errors"
	"net/http"
)

// ErrUserNotFound indicates the identity provider does not know the user.
var ErrUserNotFound = errors.New("user not found")

// User is an identity as reported by the identity provider
type User struct {
	// ID is the provider's stable subject identifier. Grant and profile
	// assignments key on this value.
	ID       string            `json:"id"`
	Username string            `json:"username"`
	Email    string            `json:"email"`
	FullName string            `json:"full_name,omitempty"`
	Groups   []string          `json:"groups,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Directory authenticates console users and exposes their identity
type Directory interface {
	// InitiateLogin starts the provider's login flow
	InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error

	// HandleCallback completes the login flow and returns the user
	HandleCallback(w http.ResponseWriter, r *http.Request) (*User, error)

	// VerifyToken validates a bearer token and returns its user
	VerifyToken(ctx context.Context, rawToken string) (*User, error)
}
