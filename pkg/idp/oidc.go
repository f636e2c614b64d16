package idp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures the OpenID Connect directory
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// GroupsClaim names the ID token claim carrying group membership.
	// Defaults to "groups".
	GroupsClaim string
}

// OIDCDirectory implements Directory against an OpenID Connect provider
type OIDCDirectory struct {
	config       OIDCConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCDirectory discovers the provider and builds the directory
func NewOIDCDirectory(ctx context.Context, config OIDCConfig) (*OIDCDirectory, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if config.GroupsClaim == "" {
		config.GroupsClaim = "groups"
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       config.Scopes,
	}

	return &OIDCDirectory{
		config:       config,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// InitiateLogin redirects to the provider's authorization endpoint
func (d *OIDCDirectory) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL := d.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback exchanges the authorization code and verifies the ID token
func (d *OIDCDirectory) HandleCallback(w http.ResponseWriter, r *http.Request) (*User, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	oauth2Token, err := d.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	return d.VerifyToken(ctx, rawIDToken)
}

// VerifyToken validates an ID token and maps its claims onto a User
func (d *OIDCDirectory) VerifyToken(ctx context.Context, rawToken string) (*User, error) {
	idToken, err := d.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	user := &User{
		ID:    idToken.Subject,
		Attrs: make(map[string]string),
	}
	for k, v := range claims {
		if str, ok := v.(string); ok {
			user.Attrs[k] = str
		}
	}

	user.Email = stringClaim(claims, "email")
	user.Username = stringClaim(claims, "preferred_username")
	user.FullName = stringClaim(claims, "name")
	user.Groups = arrayClaim(claims, d.config.GroupsClaim)

	if user.Username == "" {
		user.Username = user.Email
	}
	if user.ID == "" {
		return nil, fmt.Errorf("missing subject in ID token")
	}

	return user, nil
}

func stringClaim(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func arrayClaim(claims map[string]interface{}, key string) []string {
	if key == "" {
		return nil
	}
	raw, ok := claims[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
