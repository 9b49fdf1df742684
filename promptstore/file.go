package promptstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON file per user/agent pair under a directory.
// Writes go through a temp file and rename so a crash mid-write never
// leaves a torn snapshot behind.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("promptstore: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompt store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the snapshot for its user/agent pair.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(snap.UserID, snap.AgentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Latest reads the snapshot for the pair, or returns ErrNoSnapshot.
func (s *FileStore) Latest(ctx context.Context, userID, agentID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(userID, agentID))
	if os.IsNotExist(err) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(userID, agentID string) string {
	name := sanitize(userID) + "--" + sanitize(agentID) + ".json"
	return filepath.Join(s.dir, name)
}

// sanitize keeps identifiers filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
