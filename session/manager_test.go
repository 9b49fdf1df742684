package session

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestManagerAddGetRemove(t *testing.T) {
	m := NewManager(zerolog.Nop())

	s := New("user-1", "agent-1", "base")
	m.Add(s)

	if got := m.Get(s.ID()); got != s {
		t.Error("Get did not return the registered session")
	}
	if got := m.Len(); got != 1 {
		t.Errorf("expected 1 live session, got %d", got)
	}

	m.Remove(s.ID())
	if got := m.Get(s.ID()); got != nil {
		t.Error("session still present after Remove")
	}
	if got := m.Len(); got != 0 {
		t.Errorf("expected 0 live sessions, got %d", got)
	}

	// Removing an unknown id is a no-op.
	m.Remove("missing")
}

func TestManagerGetUnknownReturnsNil(t *testing.T) {
	m := NewManager(zerolog.Nop())
	if got := m.Get("nope"); got != nil {
		t.Errorf("expected nil for unknown id, got %v", got)
	}
}

func TestManagerListOrdersByCreation(t *testing.T) {
	m := NewManager(zerolog.Nop())

	first := New("user-1", "agent-1", "base")
	second := New("user-2", "agent-1", "base")
	third := New("user-3", "agent-1", "base")

	// Insertion order should not matter.
	m.Add(third)
	m.Add(first)
	m.Add(second)

	listed := m.List()
	if len(listed) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i].CreatedAt().Before(listed[i-1].CreatedAt()) {
			t.Errorf("sessions out of creation order at %d", i)
		}
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager(zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New("user", "agent", "base")
			m.Add(s)
			m.Get(s.ID())
			m.List()
			m.Remove(s.ID())
		}()
	}
	wg.Wait()

	if got := m.Len(); got != 0 {
		t.Errorf("expected empty manager after churn, got %d", got)
	}
}
