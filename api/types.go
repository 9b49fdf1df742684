// Package api defines the wire types shared by the daemon and its clients:
// the WebSocket event envelope spoken on /ws/converse and the REST DTOs.
package api

import "time"

// EventType discriminates conversation gateway frames.
type EventType string

const (
	// EventUtterance is a user utterance, client to daemon.
	EventUtterance EventType = "utterance"
	// EventReplyDelta is an incremental piece of the reply being
	// generated. The complete reply follows as EventReply.
	EventReplyDelta EventType = "reply_delta"
	// EventReply is the assistant's reply, daemon to client.
	EventReply EventType = "reply"
	// EventPromptRefreshed announces that the session's system prompt was
	// rebuilt from refreshed memory.
	EventPromptRefreshed EventType = "prompt_refreshed"
	// EventRecap carries the session recap sent during graceful close.
	EventRecap EventType = "recap"
	// EventError reports a gateway-level problem. The conversation
	// continues unless the connection is closed.
	EventError EventType = "error"
)

// Event is the envelope for every frame on the conversation socket.
// Exactly one payload field is set, matching Type.
type Event struct {
	Type            EventType        `json:"type"`
	SessionID       string           `json:"session_id,omitempty"`
	Utterance       *Utterance       `json:"utterance,omitempty"`
	ReplyDelta      *ReplyDelta      `json:"reply_delta,omitempty"`
	Reply           *Reply           `json:"reply,omitempty"`
	PromptRefreshed *PromptRefreshed `json:"prompt_refreshed,omitempty"`
	Recap           *Recap           `json:"recap,omitempty"`
	Error           *Error           `json:"error,omitempty"`
}

// Utterance is one user turn. Audio utterances arrive as binary frames and
// are transcribed server-side; this payload carries text utterances.
type Utterance struct {
	Text string `json:"text"`
}

// ReplyDelta is a streamed fragment of the reply in progress.
type ReplyDelta struct {
	Text string `json:"text"`
}

// Reply is one assistant turn. Audio, when synthesized, is base64-encoded
// by the JSON marshaller.
type Reply struct {
	Text  string `json:"text"`
	Audio []byte `json:"audio,omitempty"`
}

// PromptRefreshed announces a completed memory refresh.
type PromptRefreshed struct {
	Categories  []string  `json:"categories,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Recap is the end-of-session summary.
type Recap struct {
	Summary string `json:"summary"`
}

// Error is a gateway error payload.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewErrorEvent builds an error frame.
func NewErrorEvent(sessionID, code, message string) Event {
	return Event{
		Type:      EventError,
		SessionID: sessionID,
		Error:     &Error{Code: code, Message: message},
	}
}

// SessionInfo describes one session on the REST surface. Live sessions
// come from the in-memory registry, finished ones from the transcript
// store.
type SessionInfo struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	AgentID    string     `json:"agent_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Active     bool       `json:"active"`
}

// SessionsResponse is the body of GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// Turn is one transcript entry on the REST surface.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptResponse is the body of GET /api/v1/sessions/:id/transcript.
type TranscriptResponse struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
}

// PromptResponse is the body of GET /api/v1/sessions/:id/prompt.
type PromptResponse struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

// TaskInfo is one memorization task on the REST surface.
type TaskInfo struct {
	TaskID      string    `json:"task_id"`
	State       string    `json:"state"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TasksResponse is the body of GET /api/v1/sessions/:id/tasks.
type TasksResponse struct {
	SessionID string     `json:"session_id"`
	Tasks     []TaskInfo `json:"tasks"`
}

// ErrorResponse is the uniform REST error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
