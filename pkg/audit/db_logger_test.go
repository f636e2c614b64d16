package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

// setupSqliteLogger backs the logger with a real database for query tests.
func setupSqliteLogger(t *testing.T) *DBLogger {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure audit_events table")
	})
}

func TestDBLogger_Log(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))
	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	event := &Event{
		EventType:    EventTypeSetCreate,
		Status:       EventStatusSuccess,
		ActorID:      "admin-1",
		ResourceType: ResourceTypePermissionSet,
		ResourceID:   "set-1",
		Method:       "POST",
		Path:         "/permission-sets",
		Metadata:     map[string]interface{}{"name": "Sales"},
	}

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			sqlmock.AnyArg(), event.EventType, event.Status,
			event.ActorID, event.ActorName,
			event.ResourceType, event.ResourceID, event.ResourceName,
			event.IPAddress, event.RequestID, event.Method, event.Path,
			event.Message, event.ErrorMessage, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.False(t, event.Timestamp.IsZero(), "Log must stamp unstamped events")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_LogMutation(t *testing.T) {
	logger := setupSqliteLogger(t)
	ctx := context.Background()

	err := logger.LogMutation(ctx, EventTypeSetDelete, "admin-1", ResourceTypePermissionSet, "set-1",
		EventStatusSuccess, "permission set cascade-deleted")
	require.NoError(t, err)

	events, err := logger.Search(ctx, SearchFilter{ActorID: "admin-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeSetDelete, events[0].EventType)
	assert.Equal(t, "permission set cascade-deleted", events[0].Message)
}

func TestDBLogger_Search(t *testing.T) {
	logger := setupSqliteLogger(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	seed := []*Event{
		{Timestamp: base, EventType: EventTypeSetCreate, Status: EventStatusSuccess, ActorID: "admin-1", ResourceType: ResourceTypePermissionSet, ResourceID: "set-1"},
		{Timestamp: base.Add(time.Minute), EventType: EventTypeTableAttach, Status: EventStatusSuccess, ActorID: "admin-1", ResourceType: ResourceTypeTableAccess, ResourceID: "ta-1", Metadata: map[string]interface{}{"table": "orders"}},
		{Timestamp: base.Add(2 * time.Minute), EventType: EventTypeDirectGrant, Status: EventStatusFailure, ActorID: "admin-2", ResourceType: ResourceTypeUser, ResourceID: "user-1"},
	}
	for _, e := range seed {
		require.NoError(t, logger.Log(ctx, e))
	}

	t.Run("unfiltered newest first", func(t *testing.T) {
		events, err := logger.Search(ctx, SearchFilter{})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, EventTypeDirectGrant, events[0].EventType)
		assert.Equal(t, EventTypeSetCreate, events[2].EventType)
	})

	t.Run("by actor", func(t *testing.T) {
		events, err := logger.Search(ctx, SearchFilter{ActorID: "admin-1"})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by status", func(t *testing.T) {
		failure := EventStatusFailure
		events, err := logger.Search(ctx, SearchFilter{Status: &failure})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "admin-2", events[0].ActorID)
	})

	t.Run("by event types", func(t *testing.T) {
		events, err := logger.Search(ctx, SearchFilter{
			EventTypes: []EventType{EventTypeSetCreate, EventTypeTableAttach},
		})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("by resource", func(t *testing.T) {
		events, err := logger.Search(ctx, SearchFilter{
			ResourceType: ResourceTypeTableAccess,
			ResourceID:   "ta-1",
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "orders", events[0].Metadata["table"])
	})

	t.Run("by time window", func(t *testing.T) {
		start := base.Add(30 * time.Second)
		end := base.Add(90 * time.Second)
		events, err := logger.Search(ctx, SearchFilter{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventTypeTableAttach, events[0].EventType)
	})

	t.Run("limit and offset", func(t *testing.T) {
		events, err := logger.Search(ctx, SearchFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, EventTypeTableAttach, events[0].EventType)
	})
}

func TestDBLogger_Purge(t *testing.T) {
	logger := setupSqliteLogger(t)
	ctx := context.Background()

	old := &Event{Timestamp: time.Now().UTC().AddDate(0, 0, -100), EventType: EventTypeSetCreate, Status: EventStatusSuccess}
	recent := &Event{Timestamp: time.Now().UTC(), EventType: EventTypeSetUpdate, Status: EventStatusSuccess}
	require.NoError(t, logger.Log(ctx, old))
	require.NoError(t, logger.Log(ctx, recent))

	removed, err := logger.Purge(ctx, DefaultRetentionPolicy())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := logger.Search(ctx, SearchFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeSetUpdate, events[0].EventType)

	// A non-positive retention window disables purging.
	removed, err = logger.Purge(ctx, RetentionPolicy{})
	require.NoError(t, err)
	assert.Zero(t, removed)
}
