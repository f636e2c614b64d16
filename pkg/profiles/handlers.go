package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/accessdesk/accessdesk/pkg/audit"
	"github.com/accessdesk/accessdesk/pkg/grants"
)

// Handlers provides HTTP handlers for profile operations
type Handlers struct {
	service     *Service
	resolver    *grants.Resolver
	auditLogger audit.Logger
}

// NewHandlers creates new profile handlers
func NewHandlers(service *Service, resolver *grants.Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		service:     service,
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers all profile routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/profiles", h.CreateProfile).Methods("POST")
	router.HandleFunc("/profiles", h.ListProfiles).Methods("GET")
	router.HandleFunc("/profiles/{id}", h.GetProfile).Methods("GET")
	router.HandleFunc("/profiles/{id}", h.UpdateProfile).Methods("PUT")
	router.HandleFunc("/profiles/{id}", h.DeleteProfile).Methods("DELETE")
	router.HandleFunc("/profiles/{id}/users", h.ListProfileUsers).Methods("GET")

	router.HandleFunc("/users/{id}/profile", h.GetUserProfile).Methods("GET")
	router.HandleFunc("/users/{id}/profile", h.SetUserProfile).Methods("PUT")
	router.HandleFunc("/users/{id}/profile", h.ClearUserProfile).Methods("DELETE")
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// CreateProfile creates a new profile
func (h *Handlers) CreateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := h.service.CreateProfile(ctx, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeProfileCreate, profile.ID, nil)
	writeJSON(w, http.StatusCreated, profile)
}

// ListProfiles lists all profiles
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.ListProfiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// GetProfile retrieves a specific profile
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile renames or re-describes a profile
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateProfile(ctx, id, req.Name, req.Description); err != nil {
		writeError(w, err)
		return
	}

	profile, err := h.service.GetProfile(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeProfileUpdate, id, nil)
	writeJSON(w, http.StatusOK, profile)
}

// DeleteProfile deletes a profile and its assignment edges
func (h *Handlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	report, err := h.service.DeleteProfile(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeProfileDelete, id, map[string]interface{}{
		"sets_unassigned":  report.SetsUnassigned,
		"users_unassigned": report.UsersUnassigned,
	})
	writeJSON(w, http.StatusOK, report)
}

// ListProfileUsers lists the users assigned to a profile
func (h *Handlers) ListProfileUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListProfileUsers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUserProfile returns a user's current profile
func (h *Handlers) GetUserProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetUserProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SetUserProfile assigns a profile to a user and refreshes the user's
// effective rights.
func (h *Handlers) SetUserProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["id"]

	var req struct {
		ProfileID string `json:"profile_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.SetUserProfile(ctx, userID, req.ProfileID); err != nil {
		writeError(w, err)
		return
	}

	if h.resolver != nil {
		if err := h.resolver.RefreshUser(ctx, userID); err != nil {
			writeError(w, err)
			return
		}
	}

	h.logAudit(ctx, r, audit.EventTypeUserProfileSet, userID, map[string]interface{}{
		"profile_id": req.ProfileID,
	})
	w.WriteHeader(http.StatusOK)
}

// ClearUserProfile removes a user's profile assignment. Clearing a user
// with no profile succeeds without effect.
func (h *Handlers) ClearUserProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["id"]

	removed, err := h.service.ClearUserProfile(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.resolver != nil {
		if err := h.resolver.RefreshUser(ctx, userID); err != nil {
			writeError(w, err)
			return
		}
	}

	if removed {
		h.logAudit(ctx, r, audit.EventTypeUserProfileSet, userID, map[string]interface{}{
			"profile_id": "",
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handlers) logAudit(ctx context.Context, r *http.Request, eventType audit.EventType, resourceID string, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}

	event := audit.NewEvent(r, eventType, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeProfile
	if eventType == audit.EventTypeUserProfileSet {
		event.ResourceType = audit.ResourceTypeUser
	}
	event.ResourceID = resourceID
	if metadata != nil {
		event.Metadata = metadata
	}

	h.auditLogger.Log(ctx, event)
}
