package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestNewHealthChecker(t *testing.T) {
	t.Run("with nil dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)
		if checker == nil {
			t.Fatal("Expected non-nil checker")
		}
		if checker.db != nil {
			t.Error("Expected nil db")
		}
		if checker.redis != nil {
			t.Error("Expected nil redis")
		}
	})

	t.Run("with database", func(t *testing.T) {
		db, _, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		checker := NewHealthChecker(db, nil)
		if checker.db == nil {
			t.Error("Expected non-nil db")
		}
	})
}

func TestLiveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	checker.Liveness(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["status"] != StatusHealthy {
		t.Errorf("Expected status %q, got %v", StatusHealthy, body["status"])
	}
}

func TestCheck_HealthyDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	checker := NewHealthChecker(db, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", status.Status)
	}
	dep, ok := status.Dependencies["database"]
	if !ok {
		t.Fatal("Expected database dependency in report")
	}
	if dep.Status != StatusHealthy {
		t.Errorf("Expected healthy database, got %s (%s)", dep.Status, dep.Message)
	}
}

func TestCheck_UnhealthyDatabase(t *testing.T) {
	db, _, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	db.Close()

	checker := NewHealthChecker(db, nil)
	status := checker.Check(context.Background())

	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", status.Status)
	}
	if status.Dependencies["database"].Message == "" {
		t.Error("Expected a failure message for the database")
	}
}

func TestCheck_RedisFailureDegrades(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	checker := NewHealthChecker(db, client)
	status := checker.Check(context.Background())

	// Redis only backs the cache, so losing it degrades instead of
	// failing readiness.
	if status.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", status.Status)
	}
	if status.Dependencies["redis"].Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy redis, got %s", status.Dependencies["redis"].Status)
	}
}

func TestReadiness(t *testing.T) {
	t.Run("healthy returns 200", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		checker := NewHealthChecker(db, nil)
		req := httptest.NewRequest("GET", "/readyz", nil)
		w := httptest.NewRecorder()
		checker.Readiness(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
	})

	t.Run("unhealthy returns 503", func(t *testing.T) {
		db, _, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		db.Close()

		checker := NewHealthChecker(db, nil)
		req := httptest.NewRequest("GET", "/readyz", nil)
		w := httptest.NewRecorder()
		checker.Readiness(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", w.Code)
		}

		var status HealthStatus
		if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
	})
}
