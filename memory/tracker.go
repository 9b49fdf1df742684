package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/metrics"
)

// TrackerConfig governs the polling cadence and budget of a TaskTracker.
type TrackerConfig struct {
	// PollInterval is the base delay between status polls. Successive waits
	// grow gently and carry jitter so concurrent trackers spread out.
	PollInterval time.Duration
	// MaxPollAttempts bounds the number of status polls before the task is
	// abandoned. Zero falls back to the default.
	MaxPollAttempts int
	// PollDeadline bounds the total wall-clock time spent polling. Zero
	// means attempts are the only budget.
	PollDeadline time.Duration
}

const (
	defaultPollInterval    = 3 * time.Second
	defaultMaxPollAttempts = 20
)

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = defaultMaxPollAttempts
	}
	return c
}

// TaskTracker drives one outstanding memorization task to a terminal state
// by polling the memory service. It owns a single polling goroutine;
// completion and failure are reported through callbacks on that goroutine.
// Terminal states are final: once completed, failed, or abandoned, the
// tracker never transitions again and polling stops immediately.
type TaskTracker struct {
	task    MemoryTask
	client  Client
	journal TaskJournal
	cfg     TrackerConfig
	logger  zerolog.Logger

	onCompleted func(task MemoryTask, categories []CategorySummary)
	onFailed    func(task MemoryTask, reason FailureReason, err error)

	mu       sync.Mutex
	attempts int
	state    TaskState

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewTaskTracker creates a tracker for a submitted task. Either callback
// may be nil if the caller does not care about that outcome.
func NewTaskTracker(
	task MemoryTask,
	client Client,
	journal TaskJournal,
	cfg TrackerConfig,
	onCompleted func(task MemoryTask, categories []CategorySummary),
	onFailed func(task MemoryTask, reason FailureReason, err error),
	logger zerolog.Logger,
) (*TaskTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("tracker: client cannot be nil")
	}
	if task.TaskID == "" {
		return nil, fmt.Errorf("tracker: task id is required")
	}
	if journal == nil {
		journal = NopJournal{}
	}
	return &TaskTracker{
		task:        task,
		client:      client,
		journal:     journal,
		cfg:         cfg.withDefaults(),
		logger:      logger.With().Str("component", "task-tracker").Str("taskID", task.TaskID).Logger(),
		onCompleted: onCompleted,
		onFailed:    onFailed,
		state:       TaskStatePending,
		done:        make(chan struct{}),
	}, nil
}

// Start launches the polling goroutine. It must be called at most once.
func (t *TaskTracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx)
}

// Stop cancels polling. If the tracker has not reached a terminal state it
// transitions to abandoned.
func (t *TaskTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Done is closed when the tracker has reached a terminal state and its
// polling goroutine has exited.
func (t *TaskTracker) Done() <-chan struct{} {
	return t.done
}

// State returns the tracker's current state.
func (t *TaskTracker) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Task returns a copy of the tracked task with current state and attempts.
func (t *TaskTracker) Task() MemoryTask {
	t.mu.Lock()
	defer t.mu.Unlock()
	task := t.task
	task.State = t.state
	task.Attempts = t.attempts
	return task
}

func (t *TaskTracker) run(ctx context.Context) {
	defer close(t.done)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.cfg.PollInterval
	eb.Multiplier = 1.5
	eb.MaxInterval = t.cfg.PollInterval * 10
	eb.MaxElapsedTime = t.cfg.PollDeadline
	eb.RandomizationFactor = 0.2
	eb.Reset()

	t.logger.Debug().
		Dur("pollInterval", t.cfg.PollInterval).
		Int("maxAttempts", t.cfg.MaxPollAttempts).
		Msg("Tracking memorization task")

	for {
		wait := eb.NextBackOff()
		if wait == backoff.Stop {
			t.abandon("poll deadline exceeded")
			return
		}

		select {
		case <-ctx.Done():
			t.abandon("cancelled")
			return
		case <-time.After(wait):
		}

		t.mu.Lock()
		t.attempts++
		attempts := t.attempts
		t.mu.Unlock()
		metrics.RecordMemoryPoll()

		state, err := t.client.Status(ctx, t.task.TaskID)
		if err != nil {
			t.logger.Warn().Err(err).Int("attempt", attempts).Msg("Status poll failed")
			if attempts >= t.cfg.MaxPollAttempts {
				t.abandon("poll attempts exhausted")
				return
			}
			continue
		}

		switch state {
		case TaskStateCompleted:
			t.complete(ctx)
			return
		case TaskStateFailed:
			t.fail(FailureServiceFailure, NewServiceError("memorization task failed remotely", 0, nil))
			return
		default:
			if attempts >= t.cfg.MaxPollAttempts {
				t.abandon("poll attempts exhausted")
				return
			}
		}
	}
}

// complete performs the single post-completion retrieval and signals the
// outcome. A retrieval failure is a pipeline failure; it is not retried
// here.
func (t *TaskTracker) complete(ctx context.Context) {
	categories, err := t.client.RetrieveDefaultCategories(ctx, t.task.UserID, t.task.AgentID)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Category retrieval failed after task completion")
		t.fail(FailureServiceFailure, err)
		return
	}

	if !t.transition(TaskStateCompleted, "") {
		return
	}
	t.logger.Info().Int("categories", len(categories)).Int("attempts", t.attempts).Msg("Memorization task completed")
	metrics.RecordMemoryTaskOutcome(string(TaskStateCompleted), time.Since(t.task.SubmittedAt))
	if t.onCompleted != nil {
		t.onCompleted(t.Task(), categories)
	}
}

func (t *TaskTracker) fail(reason FailureReason, err error) {
	if !t.transition(TaskStateFailed, string(reason)) {
		return
	}
	t.logger.Warn().Err(err).Str("reason", string(reason)).Int("attempts", t.attempts).Msg("Memorization task failed")
	metrics.RecordMemoryTaskOutcome(string(TaskStateFailed), time.Since(t.task.SubmittedAt))
	if t.onFailed != nil {
		t.onFailed(t.Task(), reason, err)
	}
}

func (t *TaskTracker) abandon(detail string) {
	if !t.transition(TaskStateAbandoned, detail) {
		return
	}
	t.logger.Warn().Str("detail", detail).Int("attempts", t.attempts).Msg("Memorization task abandoned")
	metrics.RecordMemoryTaskOutcome(string(TaskStateAbandoned), time.Since(t.task.SubmittedAt))
	if t.onFailed != nil {
		t.onFailed(t.Task(), FailureTimeout, NewTimeoutError(t.task.TaskID, t.attempts))
	}
}

// transition moves the tracker to a terminal state. It returns false when
// the tracker is already terminal, in which case nothing is signalled.
// The journal write uses a detached context so the final record lands even
// when the tracker was cancelled.
func (t *TaskTracker) transition(state TaskState, reason string) bool {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = state
	attempts := t.attempts
	t.mu.Unlock()

	journalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.journal.RecordTransition(journalCtx, t.task.TaskID, state, attempts, reason); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to journal task transition")
	}
	return true
}
