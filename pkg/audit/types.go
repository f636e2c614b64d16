package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Permission set structure events
	EventTypeSetCreate  EventType = "grant.set_create"
	EventTypeSetUpdate  EventType = "grant.set_update"
	EventTypeSetDelete  EventType = "grant.set_delete"
	EventTypeTableAttach EventType = "grant.table_attach"
	EventTypeTableDetach EventType = "grant.table_detach"
	EventTypeTableUpdate EventType = "grant.table_update"
	EventTypeFieldUpdate EventType = "grant.field_update"

	// Assignment events
	EventTypeProfileAssign   EventType = "assign.profile_set"
	EventTypeProfileUnassign EventType = "assign.profile_unset"
	EventTypeDirectGrant     EventType = "assign.direct_grant"
	EventTypeDirectRevoke    EventType = "assign.direct_revoke"
	EventTypeUserProfileSet  EventType = "assign.user_profile"

	// Profile lifecycle events
	EventTypeProfileCreate EventType = "profile.create"
	EventTypeProfileUpdate EventType = "profile.update"
	EventTypeProfileDelete EventType = "profile.delete"

	// Session events
	EventTypeSessionCommit EventType = "session.commit"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
)

// ResourceType represents the kind of resource an event targets
type ResourceType string

const (
	ResourceTypePermissionSet ResourceType = "permission_set"
	ResourceTypeTableAccess   ResourceType = "table_access"
	ResourceTypeFieldAccess   ResourceType = "field_access"
	ResourceTypeProfile       ResourceType = "profile"
	ResourceTypeUser          ResourceType = "user"
	ResourceTypeSession       ResourceType = "session"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`

	// Target resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID    string
	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// RetentionPolicy defines how long audit logs are kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy returns the default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
