package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/andresmejia3/visage/internal/types"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("visage_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	// --- Test Scenarios ---

	sess, err := s.StartSession(ctx, "/tmp/clip.mp4", "abc123", "A")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	rows := []types.LogRecord{
		{Alias: "A", Gender: "Male", Age: "18-20", Frame: 1, Box: types.BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}},
		{Alias: "A", Gender: "Female", Age: "24-26", Frame: 1, Box: types.BoundingBox{X1: 200, Y1: 60, X2: 260, Y2: 140}},
		{Alias: "A", Gender: "Male", Age: "18-20", Frame: 3, Box: types.BoundingBox{X1: 52, Y1: 49, X2: 151, Y2: 150}},
	}
	for _, rec := range rows {
		if err := sess.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// An empty session is listed with zero rows.
	if _, err := s.StartSession(ctx, "camera:0", "camera-0", ""); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	counts := map[string]int{}
	for _, si := range sessions {
		counts[si.SourceID] = si.Faces
	}
	if counts["abc123"] != 3 || counts["camera-0"] != 0 {
		t.Errorf("Unexpected per-session counts: %v", counts)
	}

	records, err := s.ListRecords(ctx, sess.ID())
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != len(rows) {
		t.Fatalf("Expected %d records, got %d", len(rows), len(records))
	}
	for i, r := range records {
		if r.Seq != i+1 || r.Frame != rows[i].Frame || r.Gender != rows[i].Gender || r.Box != rows[i].Box {
			t.Errorf("Record %d = %+v, want %+v", i, r, rows[i])
		}
	}

	found, err := s.FindSession(ctx, sess.ID().String()[:8])
	if err != nil {
		t.Fatalf("FindSession failed: %v", err)
	}
	if found != sess.ID() {
		t.Errorf("FindSession = %s, want %s", found, sess.ID())
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListSessions(ctx); err == nil {
		t.Error("Expected an error listing sessions after Reset")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
