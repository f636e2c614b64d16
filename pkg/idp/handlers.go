package idp

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/accessdesk/accessdesk/pkg/observability"
)

// Handlers exposes the login flow and bearer-token authentication
type Handlers struct {
	directory   Directory
	provisioner *ProfileProvisioner
	logger      *observability.Logger
}

// NewHandlers creates IdP handlers. The provisioner may be nil when no
// group mapping is configured.
func NewHandlers(directory Directory, provisioner *ProfileProvisioner, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil).WithField("component", "idp")
	}
	return &Handlers{
		directory:   directory,
		provisioner: provisioner,
		logger:      logger,
	}
}

// RegisterRoutes registers the login routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.Login).Methods("GET")
	router.HandleFunc("/auth/callback", h.Callback).Methods("GET")
}

// Login starts the provider's login flow
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state := randomState()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		MaxAge:   300,
	})
	if err := h.directory.InitiateLogin(w, r, state); err != nil {
		http.Error(w, "login unavailable", http.StatusBadGateway)
	}
}

// Callback completes the login flow and provisions the user's profile
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("oauth_state")
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	user, err := h.directory.HandleCallback(w, r)
	if err != nil {
		h.logger.WithError(err).Warn("login callback failed")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	if h.provisioner != nil {
		if err := h.provisioner.Provision(r.Context(), user); err != nil {
			h.logger.WithError(err).WithField("user_id", user.ID).Error("profile provisioning failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// Middleware authenticates requests by bearer token and stores the actor
// ID in the request context. Requests without a token are rejected.
func (h *Handlers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		user, err := h.directory.VerifyToken(r.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := observability.WithActorID(r.Context(), user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func randomState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
