package transcript

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/memory"
	"github.com/magpievoice/magpie/migrations"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory database and runs migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	migrationsPath := filepath.Join(cwd, "..", "migrations")
	if !fileExists(filepath.Join(migrationsPath, "000001_initial_schema.up.sql")) {
		migrationsPath = filepath.Join("..", "migrations")
	}

	if err := migrations.RunMigrations(db, migrationsPath, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestStore_SessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	if err := store.CreateSession(ctx, "sess-1", "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	rec, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if rec.UserID != "user-1" || rec.AgentID != "agent-1" {
		t.Errorf("identity mismatch: got %s/%s", rec.UserID, rec.AgentID)
	}
	if rec.FinishedAt != nil {
		t.Error("expected open session to have no finish time")
	}

	if err := store.FinishSession(ctx, "sess-1"); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}

	rec, err = store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession after finish: %v", err)
	}
	if rec.FinishedAt == nil {
		t.Fatal("expected finish time to be set")
	}

	// Finishing again must not move the original timestamp.
	first := *rec.FinishedAt
	time.Sleep(1100 * time.Millisecond)
	if err := store.FinishSession(ctx, "sess-1"); err != nil {
		t.Fatalf("second FinishSession: %v", err)
	}
	rec, err = store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession after second finish: %v", err)
	}
	if !rec.FinishedAt.Equal(first) {
		t.Errorf("finish time moved: got %v, want %v", rec.FinishedAt, first)
	}
}

func TestStore_GetSessionNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_AppendAndListTurns(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	if err := store.CreateSession(ctx, "sess-1", "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	texts := []string{"hello", "hi there", "how are you", "good, thanks"}
	for i, text := range texts {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		if err := store.AppendTurn(ctx, "sess-1", memory.NewTurn(role, text)); err != nil {
			t.Fatalf("AppendTurn(%d): %v", i, err)
		}
	}

	turns, err := store.ListTurns(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != len(texts) {
		t.Fatalf("expected %d turns, got %d", len(texts), len(turns))
	}
	for i, turn := range turns {
		if turn.Text != texts[i] {
			t.Errorf("turn %d: got %q, want %q", i, turn.Text, texts[i])
		}
	}
	if turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant {
		t.Errorf("role ordering wrong: %s, %s", turns[0].Role, turns[1].Role)
	}
}

func TestStore_RecapRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	if err := store.CreateSession(ctx, "sess-1", "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err := store.GetRecap(ctx, "sess-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	recap := Recap{SessionID: "sess-1", Summary: "talked about travel plans", Model: "test-model"}
	if err := store.SaveRecap(ctx, recap); err != nil {
		t.Fatalf("SaveRecap: %v", err)
	}

	got, err := store.GetRecap(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetRecap: %v", err)
	}
	if got.Summary != recap.Summary {
		t.Errorf("summary mismatch: got %q, want %q", got.Summary, recap.Summary)
	}

	// Saving again replaces the previous recap.
	recap.Summary = "revised recap"
	if err := store.SaveRecap(ctx, recap); err != nil {
		t.Fatalf("SaveRecap (replace): %v", err)
	}
	got, err = store.GetRecap(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetRecap after replace: %v", err)
	}
	if got.Summary != "revised recap" {
		t.Errorf("expected replaced recap, got %q", got.Summary)
	}
}

func TestStore_ListSessions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateSession(ctx, id, "user-1", "agent-1"); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}

	records, err := store.ListSessions(ctx, 2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(records))
	}
}
