package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// countingHandler wraps a handler and counts requests.
type countingHandler struct {
	mu      sync.Mutex
	count   int
	handler http.HandlerFunc
}

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.count++
	h.mu.Unlock()
	h.handler(w, r)
}

func (h *countingHandler) requests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func newMemoryClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(ClientConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		UserName:       "Pat",
		AgentName:      "Magpie",
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}
	return client
}

func TestHTTPClientSubmit(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody memorizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding memorize request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-123"}) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	client := newMemoryClient(t, srv.URL)
	turns := []ConversationTurn{
		NewTurn(RoleUser, "I live in Lisbon"),
		NewTurn(RoleAssistant, "Noted!"),
	}

	taskID, err := client.Submit(context.Background(), "user-1", "agent-1", turns)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if taskID != "task-123" {
		t.Errorf("expected task-123, got %q", taskID)
	}
	if gotPath != "/api/v1/memory/memorize" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody.UserID != "user-1" || gotBody.AgentID != "agent-1" {
		t.Errorf("identity not forwarded: %+v", gotBody)
	}
	if gotBody.UserName != "Pat" || gotBody.AgentName != "Magpie" {
		t.Errorf("display names not forwarded: %+v", gotBody)
	}
	if len(gotBody.Conversation) != 2 {
		t.Fatalf("expected 2 wire turns, got %d", len(gotBody.Conversation))
	}
	if gotBody.Conversation[0].Role != "user" || gotBody.Conversation[0].Text != "I live in Lisbon" {
		t.Errorf("unexpected first wire turn: %+v", gotBody.Conversation[0])
	}
}

func TestHTTPClientSubmitAltTaskIDKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"taskId": "task-camel"}) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	taskID, err := newMemoryClient(t, srv.URL).Submit(context.Background(), "u", "a", []ConversationTurn{NewTurn(RoleUser, "hi")})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if taskID != "task-camel" {
		t.Errorf("expected task-camel, got %q", taskID)
	}
}

func TestHTTPClientSubmitMissingTaskIDIsPermanent(t *testing.T) {
	handler := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{}) //nolint:errcheck // test handler
	}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	_, err := newMemoryClient(t, srv.URL).Submit(context.Background(), "u", "a", []ConversationTurn{NewTurn(RoleUser, "hi")})
	if err == nil {
		t.Fatal("expected error for missing task id")
	}
	if !IsServiceError(err) {
		t.Errorf("expected service error, got %v", err)
	}
	if got := handler.requests(); got != 1 {
		t.Errorf("permanent error retried: %d requests", got)
	}
}

func TestHTTPClientSubmitRequiresTurns(t *testing.T) {
	handler := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	if _, err := newMemoryClient(t, srv.URL).Submit(context.Background(), "u", "a", nil); err == nil {
		t.Fatal("expected error for empty submission")
	}
	if got := handler.requests(); got != 0 {
		t.Errorf("empty submission reached the wire: %d requests", got)
	}
}

func TestHTTPClientSubmitRetriesOn429(t *testing.T) {
	handler := &countingHandler{}
	handler.handler = func(w http.ResponseWriter, r *http.Request) {
		if handler.requests() == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"}) //nolint:errcheck // test handler
	}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	taskID, err := newMemoryClient(t, srv.URL).Submit(context.Background(), "u", "a", []ConversationTurn{NewTurn(RoleUser, "hi")})
	if err != nil {
		t.Fatalf("Submit failed after retry: %v", err)
	}
	if taskID != "task-1" {
		t.Errorf("expected task-1, got %q", taskID)
	}
	if got := handler.requests(); got != 2 {
		t.Errorf("expected 2 requests (429 then success), got %d", got)
	}
}

func TestHTTPClientSubmit4xxIsPermanent(t *testing.T) {
	handler := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	_, err := newMemoryClient(t, srv.URL).Submit(context.Background(), "u", "a", []ConversationTurn{NewTurn(RoleUser, "hi")})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !IsServiceError(err) || IsRetryableError(err) {
		t.Errorf("expected permanent service error, got %v", err)
	}
	if got := handler.requests(); got != 1 {
		t.Errorf("4xx retried: %d requests", got)
	}
}

func TestHTTPClientSubmit5xxRetriesExhaust(t *testing.T) {
	handler := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	client, err := NewHTTPClient(ClientConfig{
		BaseURL:        srv.URL,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHTTPClient failed: %v", err)
	}

	_, err = client.Submit(context.Background(), "u", "a", []ConversationTurn{NewTurn(RoleUser, "hi")})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !IsServiceError(err) || !IsRetryableError(err) {
		t.Errorf("expected retryable service error, got %v", err)
	}
	// Initial attempt plus two retries.
	if got := handler.requests(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestHTTPClientStatus(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    TaskState
		wantErr bool
	}{
		{name: "pending", body: `{"state":"pending"}`, want: TaskStatePending},
		{name: "processing maps to pending", body: `{"state":"processing"}`, want: TaskStatePending},
		{name: "completed", body: `{"state":"completed"}`, want: TaskStateCompleted},
		{name: "failed", body: `{"state":"failed"}`, want: TaskStateFailed},
		{name: "alt status key", body: `{"status":"completed"}`, want: TaskStateCompleted},
		{name: "case and whitespace", body: `{"state":" Completed "}`, want: TaskStateCompleted},
		{name: "unknown state", body: `{"state":"exploded"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &countingHandler{handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/v1/memory/status/task-9" {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				w.Write([]byte(tt.body)) //nolint:errcheck // test handler
			}}
			srv := httptest.NewServer(handler)
			defer srv.Close()

			state, err := newMemoryClient(t, srv.URL).Status(context.Background(), "task-9")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if got := handler.requests(); got != 1 {
					t.Errorf("unknown state retried: %d requests", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if state != tt.want {
				t.Errorf("expected %s, got %s", tt.want, state)
			}
		})
	}
}

func TestHTTPClientStatusRequiresTaskID(t *testing.T) {
	if _, err := newMemoryClient(t, "http://unused.invalid").Status(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty task id")
	}
}

func TestHTTPClientRetrieveCategoriesStructured(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"categories":[
			{"name":"profile","summary":"Lives in Lisbon."},
			{"name":"interests","summary":"Enjoys birdwatching."}
		]}`)) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	got, err := newMemoryClient(t, srv.URL).RetrieveDefaultCategories(context.Background(), "user 1", "agent-1")
	if err != nil {
		t.Fatalf("RetrieveDefaultCategories failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 categories, got %d", len(got))
	}
	if got[0].Name != "profile" || got[0].Summary != "Lives in Lisbon." {
		t.Errorf("unexpected first category: %+v", got[0])
	}
	if got[1].Name != "interests" {
		t.Errorf("categories reordered: %+v", got)
	}
	if gotQuery != "agent_id=agent-1&user_id=user+1" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}

func TestHTTPClientRetrieveCategoriesMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"categories":[{"profile":"Lives in Lisbon.","interests":"Enjoys birdwatching."}]}`)) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	got, err := newMemoryClient(t, srv.URL).RetrieveDefaultCategories(context.Background(), "u", "a")
	if err != nil {
		t.Fatalf("RetrieveDefaultCategories failed: %v", err)
	}
	// Mapping keys come back sorted for determinism.
	if len(got) != 2 || got[0].Name != "interests" || got[1].Name != "profile" {
		t.Errorf("unexpected mapping normalization: %+v", got)
	}
	if got[1].Summary != "Lives in Lisbon." {
		t.Errorf("summary lost in normalization: %+v", got[1])
	}
}

func TestHTTPClientRetrieveCategoriesSkipsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"categories":[
			{"name":"profile","summary":"Lives in Lisbon."},
			42,
			{"broken":[1,2,3]}
		]}`)) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	got, err := newMemoryClient(t, srv.URL).RetrieveDefaultCategories(context.Background(), "u", "a")
	if err != nil {
		t.Fatalf("expected malformed entries to be skipped, got error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "profile" {
		t.Errorf("expected only the well-formed category, got %+v", got)
	}
}

func TestHTTPClientRetrieveCategoriesNullSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"categories":[{"name":"profile","summary":null}]}`)) //nolint:errcheck // test handler
	}))
	defer srv.Close()

	got, err := newMemoryClient(t, srv.URL).RetrieveDefaultCategories(context.Background(), "u", "a")
	if err != nil {
		t.Fatalf("RetrieveDefaultCategories failed: %v", err)
	}
	if len(got) != 1 || got[0].Summary != "" {
		t.Errorf("null summary should normalize to empty, got %+v", got)
	}
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(ClientConfig{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
