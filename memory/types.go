package memory

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single utterance in a conversation. Turns are
// immutable once created; the buffer owns them until they are flushed into
// a submission payload.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, text string) ConversationTurn {
	return ConversationTurn{Role: role, Text: text, Timestamp: time.Now().UTC()}
}

// TaskState is the lifecycle state of an outstanding memorization task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateAbandoned TaskState = "abandoned"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateAbandoned:
		return true
	default:
		return false
	}
}

// MemoryTask describes one submission to the remote memory service and the
// polling progress against it. State transitions are driven exclusively by
// the TaskTracker that owns the task.
type MemoryTask struct {
	TaskID      string
	UserID      string
	AgentID     string
	SubmittedAt time.Time
	State       TaskState
	Attempts    int
}

// CategorySummary is one labeled digest of user history as produced by the
// remote memory service. A category whose Summary is empty carries no
// information and is excluded from prompt composition.
type CategorySummary struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
}

// FailureReason distinguishes why a tracker signalled failure.
type FailureReason string

const (
	// FailureServiceFailure covers a "failed" status from the service and
	// retrieval errors after a completed status.
	FailureServiceFailure FailureReason = "service_failure"
	// FailureTimeout covers an exhausted poll budget (attempts or deadline).
	FailureTimeout FailureReason = "timeout"
)
