package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger implements audit logging to a SQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

// ensureTable creates the audit_events table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(255),
		actor_name VARCHAR(255),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		resource_name VARCHAR(255),
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		message TEXT,
		error_message TEXT,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_id);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status,
			actor_id, actor_name,
			resource_type, resource_id, resource_name,
			ip_address, request_id, method, path,
			message, error_message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		event.ActorID, event.ActorName,
		event.ResourceType, event.ResourceID, event.ResourceName,
		event.IPAddress, event.RequestID, event.Method, event.Path,
		event.Message, event.ErrorMessage, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// LogMutation records a structural change to a resource
func (l *DBLogger) LogMutation(ctx context.Context, eventType EventType, actorID string, resourceType ResourceType, resourceID string, status EventStatus, message string) error {
	return l.Log(ctx, &Event{
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       status,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Message:      message,
	})
}

// Close is a no-op; the caller owns the database handle.
func (l *DBLogger) Close() error { return nil }

// Search returns events matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= "+arg(*filter.EndTime))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = "+arg(filter.ActorID))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = "+arg(string(*filter.Status)))
	}
	if filter.ResourceType != "" {
		conditions = append(conditions, "resource_type = "+arg(string(filter.ResourceType)))
	}
	if filter.ResourceID != "" {
		conditions = append(conditions, "resource_id = "+arg(filter.ResourceID))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, 0, len(filter.EventTypes))
		for _, et := range filter.EventTypes {
			placeholders = append(placeholders, arg(string(et)))
		}
		conditions = append(conditions, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT id, timestamp, event_type, status, actor_id, actor_name,
		resource_type, resource_id, resource_name,
		ip_address, request_id, method, path,
		message, error_message, metadata
		FROM audit_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var actorID, actorName, resourceType, resourceID, resourceName sql.NullString
		var ipAddress, requestID, method, path, message, errorMessage, metadata sql.NullString
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.Status,
			&actorID, &actorName,
			&resourceType, &resourceID, &resourceName,
			&ipAddress, &requestID, &method, &path,
			&message, &errorMessage, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.ActorID = actorID.String
		e.ActorName = actorName.String
		e.ResourceType = ResourceType(resourceType.String)
		e.ResourceID = resourceID.String
		e.ResourceName = resourceName.String
		e.IPAddress = ipAddress.String
		e.RequestID = requestID.String
		e.Method = method.String
		e.Path = path.String
		e.Message = message.String
		e.ErrorMessage = errorMessage.String
		if metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Purge deletes events older than the retention window and returns the
// number of rows removed.
func (l *DBLogger) Purge(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)
	res, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return res.RowsAffected()
}
