package memory

import (
	"fmt"
	"sync"
	"testing"
)

func TestTurnBufferFlushAtThreshold(t *testing.T) {
	buf := NewTurnBuffer(3)

	if buf.Append(NewTurn(RoleUser, "one")) {
		t.Error("flush signalled at 1 of 3 turns")
	}
	if buf.Append(NewTurn(RoleAssistant, "two")) {
		t.Error("flush signalled at 2 of 3 turns")
	}
	if !buf.Append(NewTurn(RoleUser, "three")) {
		t.Error("no flush signalled at threshold")
	}
	if got := buf.Len(); got != 3 {
		t.Errorf("expected 3 buffered turns, got %d", got)
	}
}

func TestTurnBufferDrainReturnsAppendOrder(t *testing.T) {
	buf := NewTurnBuffer(10)
	for i := 0; i < 5; i++ {
		buf.Append(NewTurn(RoleUser, fmt.Sprintf("turn-%d", i)))
	}

	drained := buf.Drain()
	if len(drained) != 5 {
		t.Fatalf("expected 5 drained turns, got %d", len(drained))
	}
	for i, turn := range drained {
		if want := fmt.Sprintf("turn-%d", i); turn.Text != want {
			t.Errorf("turn %d: expected %q, got %q", i, want, turn.Text)
		}
	}

	if got := buf.Len(); got != 0 {
		t.Errorf("expected empty buffer after drain, got %d turns", got)
	}
	if again := buf.Drain(); again != nil {
		t.Errorf("second drain returned %d turns, want nil", len(again))
	}
}

func TestTurnBufferAppendPastThresholdKeepsSignalling(t *testing.T) {
	buf := NewTurnBuffer(2)
	buf.Append(NewTurn(RoleUser, "a"))
	buf.Append(NewTurn(RoleAssistant, "b"))

	// The buffer keeps accumulating if nobody drains; every append past the
	// threshold reports flush again.
	if !buf.Append(NewTurn(RoleUser, "c")) {
		t.Error("expected flush signal past threshold")
	}
	if got := len(buf.Drain()); got != 3 {
		t.Errorf("expected 3 turns drained, got %d", got)
	}
}

func TestTurnBufferDefaultThreshold(t *testing.T) {
	for _, threshold := range []int{0, -1} {
		buf := NewTurnBuffer(threshold)
		if got := buf.Threshold(); got != DefaultFlushThreshold {
			t.Errorf("NewTurnBuffer(%d): expected default threshold %d, got %d", threshold, DefaultFlushThreshold, got)
		}
	}
}

func TestTurnBufferConcurrentAppendAndDrain(t *testing.T) {
	const (
		writers       = 8
		turnsPerWriter = 200
	)
	buf := NewTurnBuffer(16)

	var wg sync.WaitGroup
	var drainMu sync.Mutex
	var drained []ConversationTurn

	// Drain continuously while writers append.
	stop := make(chan struct{})
	var drainWG sync.WaitGroup
	drainWG.Add(1)
	go func() {
		defer drainWG.Done()
		for {
			batch := buf.Drain()
			drainMu.Lock()
			drained = append(drained, batch...)
			drainMu.Unlock()
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < turnsPerWriter; i++ {
				buf.Append(NewTurn(RoleUser, fmt.Sprintf("w%d-t%d", w, i)))
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	drainWG.Wait()

	// Pick up anything appended after the drainer saw stop.
	drained = append(drained, buf.Drain()...)

	seen := make(map[string]bool, writers*turnsPerWriter)
	for _, turn := range drained {
		if seen[turn.Text] {
			t.Fatalf("turn %q drained twice", turn.Text)
		}
		seen[turn.Text] = true
	}
	if got, want := len(seen), writers*turnsPerWriter; got != want {
		t.Errorf("expected %d distinct turns across drains, got %d", want, got)
	}
}
