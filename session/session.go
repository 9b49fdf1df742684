package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magpievoice/magpie/memory"
)

// DefaultRecentTurnWindow is how many turns a session keeps in memory for
// LLM context when no window is configured.
const DefaultRecentTurnWindow = 20

// Session is one live conversation. Its instruction slot is the target of
// the memory pipeline's atomic prompt swap: SetInstructions replaces the
// whole value under a lock, so readers observe either the old or the new
// prompt in full, never a torn value.
type Session struct {
	id      string
	userID  string
	agentID string

	mu           sync.RWMutex
	instructions string
	turns        []memory.ConversationTurn
	window       int
	createdAt    time.Time
	lastActive   time.Time
	finished     bool
}

// New creates a session with a fresh uuid and the given base instructions.
func New(userID, agentID, instructions string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:           uuid.NewString(),
		userID:       userID,
		agentID:      agentID,
		instructions: instructions,
		window:       DefaultRecentTurnWindow,
		createdAt:    now,
		lastActive:   now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the user this session belongs to.
func (s *Session) UserID() string { return s.userID }

// AgentID returns the agent persona this session speaks as.
func (s *Session) AgentID() string { return s.agentID }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastActive returns when the session last saw a turn.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Instructions returns the current system prompt.
func (s *Session) Instructions() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instructions
}

// SetInstructions atomically replaces the system prompt.
func (s *Session) SetInstructions(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructions = prompt
}

// SetRecentTurnWindow bounds how many turns RecentTurns retains. Values
// below 1 keep the current window.
func (s *Session) SetRecentTurnWindow(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = n
	s.trimLocked()
}

// RecordTurn appends a turn to the rolling context window and bumps the
// activity timestamp.
func (s *Session) RecordTurn(turn memory.ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	s.trimLocked()
	s.lastActive = time.Now().UTC()
}

// RecentTurns returns a copy of the rolling context window in order.
func (s *Session) RecentTurns() []memory.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]memory.ConversationTurn, len(s.turns))
	copy(out, s.turns)
	return out
}

// TurnCount returns how many turns are currently in the window.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Finish marks the session closed. Returns false if it was already closed.
func (s *Session) Finish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	return true
}

// Finished reports whether the session has been closed.
func (s *Session) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

func (s *Session) trimLocked() {
	if over := len(s.turns) - s.window; over > 0 {
		s.turns = append(s.turns[:0:0], s.turns[over:]...)
	}
}
