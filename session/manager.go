package session

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/metrics"
)

// Manager is a concurrent registry of live sessions. The REST surface
// reads from it; the conversation gateway adds and removes entries as
// connections come and go.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   zerolog.Logger
}

// NewManager creates an empty session registry.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		logger:   logger.With().Str("component", "session-manager").Logger(),
	}
}

// Add registers a live session.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SetActiveSessions(count)
	m.logger.Info().Str("sessionID", s.ID()).Str("userID", s.UserID()).Int("active", count).Msg("Session opened")
}

// Get returns the session with the given id, or nil when absent.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove unregisters a session. Removing an unknown id is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		metrics.SetActiveSessions(count)
		m.logger.Info().Str("sessionID", id).Int("active", count).Msg("Session closed")
	}
}

// List returns the live sessions ordered by creation time, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
