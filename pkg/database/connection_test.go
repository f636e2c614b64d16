package database

import (
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func mockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReplicaFallsBackToPrimary(t *testing.T) {
	primary := mockDB(t)
	cm := &ConnectionManager{primary: primary}

	if got := cm.Replica(); got != primary {
		t.Error("Expected primary when no replicas are configured")
	}
}

func TestReplicaRoundRobin(t *testing.T) {
	primary := mockDB(t)
	r1 := mockDB(t)
	r2 := mockDB(t)
	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2}}

	seen := map[*sql.DB]int{}
	for i := 0; i < 10; i++ {
		seen[cm.Replica()]++
	}
	if seen[primary] != 0 {
		t.Error("Expected no reads on the primary while replicas exist")
	}
	if seen[r1] != 5 || seen[r2] != 5 {
		t.Errorf("Expected even round-robin, got r1=%d r2=%d", seen[r1], seen[r2])
	}
}

func TestReplicaDuringResize(t *testing.T) {
	primary := mockDB(t)
	r1 := mockDB(t)
	r2 := mockDB(t)
	r3 := mockDB(t)
	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2, r3}}

	// Shrink and grow the replica set the way the health check routine
	// does while readers hammer Replica(). A panic fails the test.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		small := []*sql.DB{r1}
		full := []*sql.DB{r1, r2, r3}
		for {
			select {
			case <-stop:
				return
			default:
			}
			cm.mu.Lock()
			if len(cm.replicas) > 1 {
				cm.replicas = small
			} else {
				cm.replicas = full
			}
			cm.mu.Unlock()
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(500 * time.Millisecond)
			for time.Now().Before(deadline) {
				if db := cm.Replica(); db == nil {
					t.Error("Replica returned nil")
					return
				}
			}
		}()
	}

	time.Sleep(600 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"postgres://r1", 1},
		{"postgres://r1,postgres://r2", 2},
		{" postgres://r1 , , postgres://r2 ", 2},
	}

	for _, tt := range tests {
		if got := ParseReplicaURLs(tt.input); len(got) != tt.want {
			t.Errorf("ParseReplicaURLs(%q) = %d urls, want %d", tt.input, len(got), tt.want)
		}
	}
}
