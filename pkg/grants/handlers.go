package grants

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/accessdesk/accessdesk/pkg/audit"
)

// Handlers provides HTTP handlers for permission set operations
type Handlers struct {
	store       *Store
	resolver    *Resolver
	auditLogger audit.Logger
}

// NewHandlers creates new grant handlers
func NewHandlers(store *Store, resolver *Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       store,
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers all permission set routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Permission set management
	router.HandleFunc("/permission-sets", h.CreatePermissionSet).Methods("POST")
	router.HandleFunc("/permission-sets", h.ListPermissionSets).Methods("GET")
	router.HandleFunc("/permission-sets/{id}", h.GetPermissionSet).Methods("GET")
	router.HandleFunc("/permission-sets/{id}", h.UpdatePermissionSet).Methods("PUT")
	router.HandleFunc("/permission-sets/{id}", h.DeletePermissionSet).Methods("DELETE")

	// Table grants
	router.HandleFunc("/permission-sets/{id}/tables", h.AttachTable).Methods("POST")
	router.HandleFunc("/permission-sets/{id}/tables", h.ListTableAccess).Methods("GET")
	router.HandleFunc("/permission-sets/{id}/tables/{table_id}", h.UpdateTableFlags).Methods("PUT")
	router.HandleFunc("/permission-sets/{id}/tables/{table_id}", h.DetachTable).Methods("DELETE")

	// Field grants
	router.HandleFunc("/permission-sets/{id}/tables/{table_id}/fields", h.ListFieldAccess).Methods("GET")
	router.HandleFunc("/field-access/{field_id}", h.UpdateFieldFlags).Methods("PUT")

	// Assignments
	router.HandleFunc("/profiles/{id}/permission-sets", h.AssignSetToProfile).Methods("POST")
	router.HandleFunc("/profiles/{id}/permission-sets", h.ListProfileSets).Methods("GET")
	router.HandleFunc("/profiles/{id}/permission-sets/{set_id}", h.UnassignSetFromProfile).Methods("DELETE")
	router.HandleFunc("/users/{id}/permission-sets", h.GrantSetToUser).Methods("POST")
	router.HandleFunc("/users/{id}/permission-sets", h.ListUserSets).Methods("GET")
	router.HandleFunc("/users/{id}/permission-sets/{set_id}", h.RevokeSetFromUser).Methods("DELETE")

	// Effective rights
	router.HandleFunc("/users/{id}/effective/sets", h.EffectiveSets).Methods("GET")
	router.HandleFunc("/users/{id}/effective/tables/{table}", h.EffectiveTable).Methods("GET")
	router.HandleFunc("/users/{id}/effective/tables/{table}/fields/{field}", h.EffectiveField).Methods("GET")
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrDependencyBlocked):
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

// CreatePermissionSet creates a new permission set
func (h *Handlers) CreatePermissionSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	set, err := h.store.CreatePermissionSet(ctx, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeSetCreate, audit.ResourceTypePermissionSet, set.ID, nil)
	writeJSON(w, http.StatusCreated, set)
}

// ListPermissionSets lists all permission sets
func (h *Handlers) ListPermissionSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.store.ListPermissionSets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

// GetPermissionSet retrieves a specific permission set
func (h *Handlers) GetPermissionSet(w http.ResponseWriter, r *http.Request) {
	set, err := h.store.GetPermissionSet(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// UpdatePermissionSet renames or re-describes a permission set
func (h *Handlers) UpdatePermissionSet(w http.ResponseWriter, r *http.Request) {
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

	if err := h.store.UpdatePermissionSet(ctx, id, req.Name, req.Description); err != nil {
		writeError(w, err)
		return
	}

	set, err := h.store.GetPermissionSet(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeSetUpdate, audit.ResourceTypePermissionSet, id, nil)
	writeJSON(w, http.StatusOK, set)
}

// DeletePermissionSet deletes a set and everything hanging off it, returning
// the cascade report.
func (h *Handlers) DeletePermissionSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	report, err := h.store.DeletePermissionSet(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeSetDelete, audit.ResourceTypePermissionSet, id, map[string]interface{}{
		"tables_removed":      report.TablesRemoved,
		"fields_removed":      report.FieldsRemoved,
		"profiles_unassigned": report.ProfilesUnassigned,
		"users_unassigned":    report.UsersUnassigned,
	})
	writeJSON(w, http.StatusOK, report)
}

// AttachTable grants a permission set access to a table
func (h *Handlers) AttachTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	setID := mux.Vars(r)["id"]

	var req struct {
		TableName string     `json:"table_name"`
		Flags     TableFlags `json:"flags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TableName == "" {
		http.Error(w, "table_name is required", http.StatusBadRequest)
		return
	}

	ta, err := h.store.AttachTable(ctx, setID, req.TableName, req.Flags)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeTableAttach, audit.ResourceTypeTableAccess, ta.ID, nil)
	writeJSON(w, http.StatusCreated, ta)
}

// ListTableAccess lists a set's table grants
func (h *Handlers) ListTableAccess(w http.ResponseWriter, r *http.Request) {
	tables, err := h.store.ListTableAccess(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// UpdateTableFlags updates a table grant's CRUD flags, cascading field
// flags downward where the hierarchy requires it.
func (h *Handlers) UpdateTableFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tableID := mux.Vars(r)["table_id"]

	var flags TableFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateTableFlags(ctx, tableID, flags); err != nil {
		writeError(w, err)
		return
	}

	ta, err := h.store.GetTableAccess(ctx, tableID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeTableUpdate, audit.ResourceTypeTableAccess, tableID, nil)
	writeJSON(w, http.StatusOK, ta)
}

// DetachTable removes a table grant and its field rows
func (h *Handlers) DetachTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	report, err := h.store.DetachTable(ctx, vars["id"], vars["table_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeTableDetach, audit.ResourceTypeTableAccess, vars["table_id"], map[string]interface{}{
		"fields_removed": report.FieldsRemoved,
	})
	writeJSON(w, http.StatusOK, report)
}

// ListFieldAccess lists the field grants under a table grant
func (h *Handlers) ListFieldAccess(w http.ResponseWriter, r *http.Request) {
	fields, err := h.store.ListFieldAccess(r.Context(), mux.Vars(r)["table_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

// UpdateFieldFlags updates a field grant's view/edit flags
func (h *Handlers) UpdateFieldFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fieldID := mux.Vars(r)["field_id"]

	var flags FieldFlags
	if err := json.NewDecoder(r.Body).Decode(&flags); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateFieldFlags(ctx, fieldID, flags); err != nil {
		writeError(w, err)
		return
	}

	fa, err := h.store.GetFieldAccess(ctx, fieldID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeFieldUpdate, audit.ResourceTypeFieldAccess, fieldID, nil)
	writeJSON(w, http.StatusOK, fa)
}

// AssignSetToProfile attaches a permission set to a profile
func (h *Handlers) AssignSetToProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profileID := mux.Vars(r)["id"]

	var req struct {
		PermissionSetID string `json:"permission_set_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.AssignPermissionSetToProfile(ctx, profileID, req.PermissionSetID); err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeProfileAssign, audit.ResourceTypeProfile, profileID, map[string]interface{}{
		"permission_set_id": req.PermissionSetID,
	})
	w.WriteHeader(http.StatusCreated)
}

// ListProfileSets lists the permission sets attached to a profile
func (h *Handlers) ListProfileSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.store.ListProfilePermissionSets(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

// UnassignSetFromProfile detaches a permission set from a profile. Removing
// an assignment that does not exist succeeds without effect.
func (h *Handlers) UnassignSetFromProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	removed, err := h.store.UnassignPermissionSetFromProfile(ctx, vars["id"], vars["set_id"])
	if err != nil {
		writeError(w, err)
		return
	}

	if removed {
		h.logAudit(ctx, r, audit.EventTypeProfileUnassign, audit.ResourceTypeProfile, vars["id"], map[string]interface{}{
			"permission_set_id": vars["set_id"],
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// GrantSetToUser grants a permission set directly to a user
func (h *Handlers) GrantSetToUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["id"]

	var req struct {
		PermissionSetID string `json:"permission_set_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.AssignPermissionSetToUser(ctx, userID, req.PermissionSetID, SourceDirect); err != nil {
		writeError(w, err)
		return
	}

	h.logAudit(ctx, r, audit.EventTypeDirectGrant, audit.ResourceTypeUser, userID, map[string]interface{}{
		"permission_set_id": req.PermissionSetID,
	})
	w.WriteHeader(http.StatusCreated)
}

// ListUserSets lists a user's direct permission set grants
func (h *Handlers) ListUserSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.store.ListUserPermissionSets(r.Context(), mux.Vars(r)["id"], SourceDirect)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

// RevokeSetFromUser removes a direct grant. Revoking a grant that does not
// exist succeeds without effect.
func (h *Handlers) RevokeSetFromUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	removed, err := h.store.UnassignPermissionSetFromUser(ctx, vars["id"], vars["set_id"], SourceDirect)
	if err != nil {
		writeError(w, err)
		return
	}

	if removed {
		h.logAudit(ctx, r, audit.EventTypeDirectRevoke, audit.ResourceTypeUser, vars["id"], map[string]interface{}{
			"permission_set_id": vars["set_id"],
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// EffectiveSets returns every permission set contributing to a user's
// rights, tagged by source.
func (h *Handlers) EffectiveSets(w http.ResponseWriter, r *http.Request) {
	grants, err := h.resolver.EffectivePermissionSets(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grants)
}

// EffectiveTable returns a user's combined CRUD rights on a table
func (h *Handlers) EffectiveTable(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flags, err := h.resolver.EffectiveTableAccess(r.Context(), vars["id"], vars["table"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

// EffectiveField returns a user's masked, combined view/edit rights on a
// single field.
func (h *Handlers) EffectiveField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flags, err := h.resolver.EffectiveFieldAccess(r.Context(), vars["id"], vars["table"], vars["field"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (h *Handlers) logAudit(ctx context.Context, r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}

	event := audit.NewEvent(r, eventType, audit.EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if metadata != nil {
		event.Metadata = metadata
	}

	h.auditLogger.Log(ctx, event)
}
