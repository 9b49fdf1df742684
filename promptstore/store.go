// Package promptstore persists composed prompts so a reconnecting session
// can resume from the last applied prompt instead of the bare base
// instructions.
package promptstore

import (
	"context"
	"errors"
	"time"
)

// ErrNoSnapshot is returned by Latest when no prompt has been saved for
// the user/agent pair.
var ErrNoSnapshot = errors.New("promptstore: no snapshot")

// Snapshot is one persisted prompt for a user/agent pair. Only the latest
// snapshot per pair is retained.
type Snapshot struct {
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id"`
	Prompt    string    `json:"prompt"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists prompt snapshots.
type Store interface {
	// Save stores the snapshot, replacing any previous one for the same
	// user/agent pair.
	Save(ctx context.Context, snap Snapshot) error
	// Latest returns the most recent snapshot for the pair, or
	// ErrNoSnapshot.
	Latest(ctx context.Context, userID, agentID string) (Snapshot, error)
	// Close releases resources held by the store.
	Close() error
}
