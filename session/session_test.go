package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/magpievoice/magpie/memory"
)

func TestSessionIdentity(t *testing.T) {
	s := New("user-1", "agent-1", "base")
	if s.ID() == "" {
		t.Error("expected a generated session id")
	}
	if s.UserID() != "user-1" || s.AgentID() != "agent-1" {
		t.Errorf("identity mismatch: %s/%s", s.UserID(), s.AgentID())
	}
	if s.Instructions() != "base" {
		t.Errorf("expected initial instructions, got %q", s.Instructions())
	}

	other := New("user-1", "agent-1", "base")
	if s.ID() == other.ID() {
		t.Error("two sessions share an id")
	}
}

func TestSessionInstructionSwapIsAtomic(t *testing.T) {
	s := New("user-1", "agent-1", strings.Repeat("a", 256))
	prompts := []string{
		strings.Repeat("a", 256),
		strings.Repeat("b", 256),
		strings.Repeat("c", 256),
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers must only ever observe one of the complete prompts.
	torn := make(chan string, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := s.Instructions()
				if got != prompts[0] && got != prompts[1] && got != prompts[2] {
					select {
					case torn <- got:
					default:
					}
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		s.SetInstructions(prompts[i%len(prompts)])
	}
	close(stop)
	wg.Wait()

	select {
	case got := <-torn:
		t.Fatalf("reader observed a torn prompt: %q", got[:16])
	default:
	}
}

func TestSessionRollingWindowTrims(t *testing.T) {
	s := New("user-1", "agent-1", "base")
	s.SetRecentTurnWindow(3)

	for i := 0; i < 5; i++ {
		s.RecordTurn(memory.NewTurn(memory.RoleUser, fmt.Sprintf("turn-%d", i)))
	}

	turns := s.RecentTurns()
	if len(turns) != 3 {
		t.Fatalf("expected window of 3, got %d", len(turns))
	}
	// Oldest turns fall off the front.
	for i, turn := range turns {
		if want := fmt.Sprintf("turn-%d", i+2); turn.Text != want {
			t.Errorf("turn %d: expected %q, got %q", i, want, turn.Text)
		}
	}
	if got := s.TurnCount(); got != 3 {
		t.Errorf("TurnCount mismatch: %d", got)
	}
}

func TestSessionWindowShrinkTrimsExisting(t *testing.T) {
	s := New("user-1", "agent-1", "base")
	for i := 0; i < 10; i++ {
		s.RecordTurn(memory.NewTurn(memory.RoleUser, fmt.Sprintf("turn-%d", i)))
	}

	s.SetRecentTurnWindow(2)
	turns := s.RecentTurns()
	if len(turns) != 2 || turns[0].Text != "turn-8" || turns[1].Text != "turn-9" {
		t.Errorf("shrink kept the wrong turns: %+v", turns)
	}

	// Values below 1 leave the window alone.
	s.SetRecentTurnWindow(0)
	s.RecordTurn(memory.NewTurn(memory.RoleUser, "turn-10"))
	if got := s.TurnCount(); got != 2 {
		t.Errorf("expected window to stay 2, got %d turns", got)
	}
}

func TestSessionRecentTurnsReturnsCopy(t *testing.T) {
	s := New("user-1", "agent-1", "base")
	s.RecordTurn(memory.NewTurn(memory.RoleUser, "original"))

	turns := s.RecentTurns()
	turns[0].Text = "mutated"

	if got := s.RecentTurns()[0].Text; got != "original" {
		t.Errorf("caller mutation leaked into session: %q", got)
	}
}

func TestSessionFinishOnce(t *testing.T) {
	s := New("user-1", "agent-1", "base")
	if s.Finished() {
		t.Error("new session already finished")
	}
	if !s.Finish() {
		t.Error("first Finish returned false")
	}
	if s.Finish() {
		t.Error("second Finish returned true")
	}
	if !s.Finished() {
		t.Error("session not marked finished")
	}
}

func TestSessionRecordTurnBumpsActivity(t *testing.T) {
	s := New("user-1", "agent-1", "base")
	before := s.LastActive()
	s.RecordTurn(memory.NewTurn(memory.RoleUser, "hello"))
	if s.LastActive().Before(before) {
		t.Error("LastActive moved backwards")
	}
}
