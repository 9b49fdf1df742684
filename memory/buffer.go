package memory

import "sync"

// TurnBuffer accumulates conversation turns until a flush condition is met.
// It is safe for concurrent use: the conversation loop appends while the
// pipeline drains. A turn appended concurrently with a drain lands fully
// before or fully after it, never partially in both.
type TurnBuffer struct {
	mu        sync.Mutex
	turns     []ConversationTurn
	threshold int
}

// DefaultFlushThreshold is the number of turns that triggers a flush when
// no threshold is configured.
const DefaultFlushThreshold = 4

// NewTurnBuffer creates a buffer with the given flush threshold. A
// threshold below 1 falls back to DefaultFlushThreshold.
func NewTurnBuffer(threshold int) *TurnBuffer {
	if threshold < 1 {
		threshold = DefaultFlushThreshold
	}
	return &TurnBuffer{
		turns:     make([]ConversationTurn, 0, threshold),
		threshold: threshold,
	}
}

// Append adds a turn to the buffer and reports whether the buffer has
// reached its flush threshold.
func (b *TurnBuffer) Append(turn ConversationTurn) (shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, turn)
	return len(b.turns) >= b.threshold
}

// Drain atomically returns the buffered turns in append order and resets
// the buffer. No turn is ever returned by two drains.
func (b *TurnBuffer) Drain() []ConversationTurn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.turns) == 0 {
		return nil
	}
	drained := b.turns
	b.turns = make([]ConversationTurn, 0, b.threshold)
	return drained
}

// Len returns the current number of buffered turns.
func (b *TurnBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Threshold returns the configured flush threshold.
func (b *TurnBuffer) Threshold() int {
	return b.threshold
}
