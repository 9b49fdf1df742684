// Package client is the Go client for the magpied daemon: thin wrappers
// over the REST surface plus the conversation WebSocket.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magpievoice/magpie/api"
)

const (
	writeTimeout = 10 * time.Second

	// closeWait bounds how long Close waits for the daemon to flush the
	// memory pipeline and deliver the recap before forcing the socket
	// shut.
	closeWait = 60 * time.Second
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// HealthInfo is the body of GET /healthz.
type HealthInfo struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"active_sessions"`
}

// Client talks to a magpied daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the daemon at the given base URL, e.g.
// "http://localhost:8790".
func New(serverURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	var info HealthInfo
	err := c.getJSON(ctx, "/healthz", &info)
	return info, err
}

// ListSessions returns live and recently finished sessions.
func (c *Client) ListSessions(ctx context.Context) ([]api.SessionInfo, error) {
	var body api.SessionsResponse
	if err := c.getJSON(ctx, "/api/v1/sessions", &body); err != nil {
		return nil, err
	}
	return body.Sessions, nil
}

// Transcript returns a session's turns in order.
func (c *Client) Transcript(ctx context.Context, sessionID string) ([]api.Turn, error) {
	var body api.TranscriptResponse
	if err := c.getJSON(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/transcript", &body); err != nil {
		return nil, err
	}
	return body.Turns, nil
}

// Prompt returns the session's current system prompt: the live value for
// an open session, the last snapshot for a finished one.
func (c *Client) Prompt(ctx context.Context, sessionID string) (string, error) {
	var body api.PromptResponse
	if err := c.getJSON(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/prompt", &body); err != nil {
		return "", err
	}
	return body.Prompt, nil
}

// Tasks returns the memorization tasks recorded for the session's
// user/agent pair, newest first.
func (c *Client) Tasks(ctx context.Context, sessionID string) ([]api.TaskInfo, error) {
	var body api.TasksResponse
	if err := c.getJSON(ctx, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/tasks", &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Cleanup

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}

// Conversation is one live exchange over the conversation socket. Events
// delivers daemon frames in order until the socket closes; the caller
// must drain it.
type Conversation struct {
	conn   *websocket.Conn
	events chan api.Event
	done   chan struct{}

	writeMu sync.Mutex
	closing sync.Once

	mu        sync.Mutex
	sessionID string
	readErr   error
}

// Converse opens a conversation for the given user and agent. Either id
// may be empty if the daemon has a configured default.
func (c *Client) Converse(ctx context.Context, userID, agentID string) (*Conversation, error) {
	wsURL, err := c.converseURL(userID, agentID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close() //nolint:errcheck // Cleanup
			return nil, apiError(resp)
		}
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	cv := &Conversation{
		conn:   conn,
		events: make(chan api.Event, 16),
		done:   make(chan struct{}),
	}
	go cv.readLoop()
	return cv, nil
}

func (c *Client) converseURL(userID, agentID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = "/ws/converse"

	q := u.Query()
	if userID != "" {
		q.Set("user_id", userID)
	}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Events returns the channel of daemon frames. It closes when the
// conversation ends; check Err afterwards.
func (cv *Conversation) Events() <-chan api.Event {
	return cv.events
}

// SessionID returns the daemon-assigned session id, or empty before the
// first event arrives.
func (cv *Conversation) SessionID() string {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.sessionID
}

// Err returns the read error that ended the conversation, or nil after a
// clean close. Valid once Events has closed.
func (cv *Conversation) Err() error {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.readErr
}

// Send submits a text utterance.
func (cv *Conversation) Send(text string) error {
	ev := api.Event{Type: api.EventUtterance, Utterance: &api.Utterance{Text: text}}

	cv.writeMu.Lock()
	defer cv.writeMu.Unlock()
	_ = cv.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cv.conn.WriteJSON(ev)
}

// SendAudio submits a raw audio utterance for server-side transcription.
func (cv *Conversation) SendAudio(data []byte) error {
	cv.writeMu.Lock()
	defer cv.writeMu.Unlock()
	_ = cv.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cv.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close ends the conversation gracefully: it sends a close frame, then
// waits for the daemon to flush the memory pipeline and finish the
// session. The recap arrives on Events before it closes, so keep
// draining until then.
func (cv *Conversation) Close() error {
	var writeErr error
	cv.closing.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		writeErr = cv.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))

		select {
		case <-cv.done:
		case <-time.After(closeWait):
		}
		_ = cv.conn.Close()
	})
	return writeErr
}

func (cv *Conversation) readLoop() {
	defer close(cv.done)
	defer close(cv.events)

	for {
		var ev api.Event
		if err := cv.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cv.mu.Lock()
				cv.readErr = err
				cv.mu.Unlock()
			}
			return
		}

		if ev.SessionID != "" {
			cv.mu.Lock()
			if cv.sessionID == "" {
				cv.sessionID = ev.SessionID
			}
			cv.mu.Unlock()
		}

		cv.events <- ev
	}
}
