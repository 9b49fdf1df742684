package transcript

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/llm"
	"github.com/magpievoice/magpie/memory"
)

type stubLLM struct {
	lastReq *llm.Request
	text    string
	err     error
}

func (s *stubLLM) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text}, nil
}

func (s *stubLLM) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	return nil, errors.New("not implemented")
}

func TestRecapGenerator_Generate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	if err := store.CreateSession(ctx, "sess-1", "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.AppendTurn(ctx, "sess-1", memory.NewTurn(memory.RoleUser, "plan my trip to Lisbon")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := store.AppendTurn(ctx, "sess-1", memory.NewTurn(memory.RoleAssistant, "sure, when are you going?")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	client := &stubLLM{text: "  User planned a Lisbon trip.  "}
	gen := NewRecapGenerator(client, store, RecapGeneratorConfig{Model: "test-model"}, zerolog.Nop())

	recap, err := gen.Generate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if recap.Summary != "User planned a Lisbon trip." {
		t.Errorf("expected trimmed summary, got %q", recap.Summary)
	}
	if recap.Model != "test-model" {
		t.Errorf("expected model recorded, got %q", recap.Model)
	}

	if client.lastReq == nil {
		t.Fatal("expected a request to reach the llm client")
	}
	if client.lastReq.System == "" {
		t.Error("expected a recap system prompt")
	}

	// The recap must be readable back from the store.
	saved, err := store.GetRecap(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetRecap: %v", err)
	}
	if saved.Summary != recap.Summary {
		t.Errorf("persisted recap mismatch: got %q", saved.Summary)
	}
}

func TestRecapGenerator_EmptySession(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	if err := store.CreateSession(ctx, "sess-empty", "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	gen := NewRecapGenerator(&stubLLM{text: "unused"}, store, RecapGeneratorConfig{Model: "m"}, zerolog.Nop())
	_, err := gen.Generate(ctx, "sess-empty")
	if !errors.Is(err, ErrNoTurns) {
		t.Errorf("expected ErrNoTurns, got %v", err)
	}
}

func TestRecapGenerator_ClientError(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	store := NewStore(db)
	ctx := context.Background()

	if err := store.CreateSession(ctx, "sess-1", "user-1", "agent-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.AppendTurn(ctx, "sess-1", memory.NewTurn(memory.RoleUser, "hello")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	gen := NewRecapGenerator(&stubLLM{err: errors.New("provider down")}, store, RecapGeneratorConfig{Model: "m"}, zerolog.Nop())
	if _, err := gen.Generate(ctx, "sess-1"); err == nil {
		t.Fatal("expected error when the llm call fails")
	}

	if _, err := store.GetRecap(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected no recap persisted on failure, got %v", err)
	}
}
