package promptstore

import (
	"context"
	"errors"
	"testing"
)

func TestFileStore_SaveAndLatest(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	snap := Snapshot{UserID: "user-1", AgentID: "agent-1", Prompt: "remembered prompt"}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Latest(ctx, "user-1", "agent-1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.Prompt != snap.Prompt {
		t.Errorf("prompt mismatch: got %q, want %q", got.Prompt, snap.Prompt)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped on save")
	}
}

func TestFileStore_LatestMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	_, err = store.Latest(context.Background(), "nobody", "agent-1")
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestFileStore_SaveReplacesPrevious(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, Snapshot{UserID: "u", AgentID: "a", Prompt: "old"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, Snapshot{UserID: "u", AgentID: "a", Prompt: "new"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Latest(ctx, "u", "a")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.Prompt != "new" {
		t.Errorf("expected %q, got %q", "new", got.Prompt)
	}
}

func TestFileStore_SanitizesIdentifiers(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	snap := Snapshot{UserID: "user/../1", AgentID: "agent:1", Prompt: "safe"}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Latest(ctx, "user/../1", "agent:1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if got.Prompt != "safe" {
		t.Errorf("expected %q, got %q", "safe", got.Prompt)
	}
}
