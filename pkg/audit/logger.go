package audit

import (
	"context"
	"net/http"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// LogMutation records a structural change to a resource
	LogMutation(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error

	// Close flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
// when none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// NopLogger returns a logger that discards all events.
func NopLogger() Logger { return &noOpLogger{} }

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error { return nil }

func (l *noOpLogger) LogMutation(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return nil
}

func (l *noOpLogger) Close() error { return nil }

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// NewEvent builds an event with common fields populated from the request.
func NewEvent(r *http.Request, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = getClientIP(r)
		event.RequestID = r.Header.Get("X-Request-ID")
	}
	return event
}
