package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magpievoice/magpie/api"
)

// fakeDaemon serves canned REST responses and an echoing conversation
// socket in the daemon's wire format.
func fakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, HealthInfo{Status: "ok", Uptime: "5s", ActiveSessions: 1})
	})
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.SessionsResponse{Sessions: []api.SessionInfo{
			{ID: "sess-1", UserID: "user-1", AgentID: "agent-1", Active: true},
		}})
	})
	mux.HandleFunc("/api/v1/sessions/sess-1/transcript", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.TranscriptResponse{SessionID: "sess-1", Turns: []api.Turn{
			{Role: "user", Text: "hello"},
			{Role: "assistant", Text: "hi"},
		}})
	})
	mux.HandleFunc("/api/v1/sessions/sess-1/prompt", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.PromptResponse{SessionID: "sess-1", Prompt: "current prompt"})
	})
	mux.HandleFunc("/api/v1/sessions/missing/transcript", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, api.ErrorResponse{Error: "session not found"})
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws/converse", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") == "" {
			writeJSON(t, w, http.StatusBadRequest, api.ErrorResponse{Error: "user_id and agent_id are required"})
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck // Test cleanup
		conn.SetCloseHandler(func(int, string) error { return nil })

		for {
			var ev api.Event
			if err := conn.ReadJSON(&ev); err != nil {
				// Client sent a close frame: deliver the recap first,
				// the way the daemon does.
				_ = conn.WriteJSON(api.Event{Type: api.EventRecap, SessionID: "sess-1", Recap: &api.Recap{Summary: "we talked"}})
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			reply := api.Event{Type: api.EventReply, SessionID: "sess-1", Reply: &api.Reply{Text: "echo: " + ev.Utterance.Text}}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	})

	return httptest.NewServer(mux)
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	info, err := New(ts.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if info.Status != "ok" || info.ActiveSessions != 1 {
		t.Errorf("unexpected health info: %+v", info)
	}
}

func TestClient_ListSessions(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	sessions, err := New(ts.URL).ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "sess-1" || !sessions[0].Active {
		t.Errorf("unexpected sessions: %+v", sessions)
	}
}

func TestClient_Transcript(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	turns, err := New(ts.URL).Transcript(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(turns) != 2 || turns[0].Text != "hello" {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestClient_Prompt(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	prompt, err := New(ts.URL).Prompt(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if prompt != "current prompt" {
		t.Errorf("unexpected prompt: %q", prompt)
	}
}

func TestClient_NotFoundIsAPIError(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	_, err := New(ts.URL).Transcript(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "session not found" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClient_ConverseURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8790", "ws://localhost:8790/ws/converse?agent_id=a&user_id=u"},
		{"https://magpie.example.com", "wss://magpie.example.com/ws/converse?agent_id=a&user_id=u"},
	}
	for _, tc := range tests {
		got, err := New(tc.base).converseURL("u", "a")
		if err != nil {
			t.Errorf("converseURL(%q): %v", tc.base, err)
			continue
		}
		if got != tc.want {
			t.Errorf("converseURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	if _, err := New("ftp://example.com").converseURL("u", "a"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestClient_ConversationRoundTrip(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	cv, err := New(ts.URL).Converse(context.Background(), "user-1", "agent-1")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	if err := cv.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ev := nextEvent(t, cv)
	if ev.Type != api.EventReply || ev.Reply == nil || ev.Reply.Text != "echo: hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if cv.SessionID() != "sess-1" {
		t.Errorf("expected session id to be captured, got %q", cv.SessionID())
	}

	closed := make(chan error, 1)
	go func() { closed <- cv.Close() }()

	ev = nextEvent(t, cv)
	if ev.Type != api.EventRecap || ev.Recap == nil || ev.Recap.Summary != "we talked" {
		t.Fatalf("expected recap before close, got %+v", ev)
	}

	select {
	case ev, ok := <-cv.Events():
		if ok {
			t.Fatalf("expected events to close, got %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel did not close")
	}

	if err := <-closed; err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := cv.Err(); err != nil {
		t.Errorf("expected clean close, got %v", err)
	}
}

func TestClient_ConverseRejected(t *testing.T) {
	ts := fakeDaemon(t)
	defer ts.Close()

	_, err := New(ts.URL).Converse(context.Background(), "", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", apiErr.StatusCode)
	}
}

func nextEvent(t *testing.T, cv *Conversation) api.Event {
	t.Helper()
	select {
	case ev, ok := <-cv.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return api.Event{}
	}
}
