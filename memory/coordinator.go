package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/metrics"
)

// PromptTarget is the live session's instruction slot. SetInstructions must
// replace the value atomically: concurrent readers observe either the old
// or the new prompt in full, never a partial write.
type PromptTarget interface {
	SetInstructions(prompt string)
}

// SnapshotSink persists composed prompts so a future session for the same
// user/agent can start from the last known prompt instead of the bare base
// instructions.
type SnapshotSink interface {
	SavePromptSnapshot(ctx context.Context, userID, agentID, prompt string) error
}

// CoordinatorConfig configures a per-session memory pipeline.
type CoordinatorConfig struct {
	UserID           string
	AgentID          string
	BaseInstructions string
	FlushThreshold   int
	Tracker          TrackerConfig
	// CloseGracePeriod bounds how long OnClose waits for outstanding
	// trackers before cancelling them. Zero falls back to the default.
	CloseGracePeriod time.Duration
}

const defaultCloseGracePeriod = 15 * time.Second

// Coordinator orchestrates the memory pipeline for one session: it owns the
// turn buffer, submits flushed batches, tracks outstanding tasks, and swaps
// refreshed prompts into the live session. All pipeline errors are
// contained here; the conversation never blocks on memory work.
type Coordinator struct {
	cfg     CoordinatorConfig
	client  Client
	journal TaskJournal
	target  PromptTarget
	logger  zerolog.Logger

	snapshots SnapshotSink
	onRefresh func(prompt string, categories []CategorySummary)

	buffer *TurnBuffer

	mu       sync.Mutex
	trackers map[string]*TaskTracker
	closed   bool

	// applyMu serializes prompt application so overlapping refreshes
	// resolve to a single order: the last completion wins.
	applyMu sync.Mutex

	runCtx    context.Context
	runCancel context.CancelFunc
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithJournal sets the task journal. Defaults to NopJournal.
func WithJournal(journal TaskJournal) CoordinatorOption {
	return func(c *Coordinator) {
		if journal != nil {
			c.journal = journal
		}
	}
}

// WithSnapshotSink persists each applied prompt to the given sink.
func WithSnapshotSink(sink SnapshotSink) CoordinatorOption {
	return func(c *Coordinator) { c.snapshots = sink }
}

// WithRefreshHook invokes fn after every applied prompt refresh. Used by
// the gateway to push refresh events to connected clients.
func WithRefreshHook(fn func(prompt string, categories []CategorySummary)) CoordinatorOption {
	return func(c *Coordinator) { c.onRefresh = fn }
}

// NewCoordinator creates the memory pipeline for one session.
func NewCoordinator(cfg CoordinatorConfig, client Client, target PromptTarget, logger zerolog.Logger, opts ...CoordinatorOption) (*Coordinator, error) {
	if client == nil {
		return nil, fmt.Errorf("coordinator: client cannot be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("coordinator: prompt target cannot be nil")
	}
	if cfg.UserID == "" || cfg.AgentID == "" {
		return nil, fmt.Errorf("coordinator: user id and agent id are required")
	}
	if cfg.CloseGracePeriod <= 0 {
		cfg.CloseGracePeriod = defaultCloseGracePeriod
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		client:    client,
		journal:   NopJournal{},
		target:    target,
		logger:    logger.With().Str("component", "memory-coordinator").Str("userID", cfg.UserID).Logger(),
		buffer:    NewTurnBuffer(cfg.FlushThreshold),
		trackers:  make(map[string]*TaskTracker),
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnTurn feeds one conversation turn into the pipeline. When the buffer
// reaches its flush threshold the batch is submitted in the background;
// this call never waits on network I/O.
func (c *Coordinator) OnTurn(turn ConversationTurn) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.logger.Debug().Msg("Dropping turn received after close")
		return
	}

	metrics.RecordConversationTurn(string(turn.Role))
	if shouldFlush := c.buffer.Append(turn); shouldFlush {
		go c.submitAndTrack(c.runCtx)
	}
}

// submitAndTrack drains the buffer and submits the batch. A submission
// failure discards the drained turns: retrying indefinitely would grow
// without bound, and the service will fold future batches into the same
// memory anyway.
func (c *Coordinator) submitAndTrack(ctx context.Context) {
	turns := c.buffer.Drain()
	if len(turns) == 0 {
		return
	}

	taskID, err := c.client.Submit(ctx, c.cfg.UserID, c.cfg.AgentID, turns)
	if err != nil {
		metrics.RecordMemorySubmission("error")
		c.logger.Error().Err(err).Int("turns", len(turns)).Msg("Submission failed, discarding batch")
		return
	}
	metrics.RecordMemorySubmission("ok")

	task := MemoryTask{
		TaskID:      taskID,
		UserID:      c.cfg.UserID,
		AgentID:     c.cfg.AgentID,
		SubmittedAt: time.Now().UTC(),
		State:       TaskStatePending,
	}
	if err := c.journal.RecordSubmission(ctx, task); err != nil {
		c.logger.Warn().Err(err).Str("taskID", taskID).Msg("Failed to journal submission")
	}

	tracker, err := NewTaskTracker(task, c.client, c.journal, c.cfg.Tracker, c.onTrackerCompleted, c.onTrackerFailed, c.logger)
	if err != nil {
		c.logger.Error().Err(err).Str("taskID", taskID).Msg("Failed to create tracker")
		return
	}

	c.mu.Lock()
	c.trackers[taskID] = tracker
	c.mu.Unlock()

	tracker.Start(c.runCtx)
	go func() {
		<-tracker.Done()
		c.mu.Lock()
		delete(c.trackers, taskID)
		c.mu.Unlock()
	}()

	c.logger.Info().Str("taskID", taskID).Int("turns", len(turns)).Msg("Submitted conversation batch")
}

// onTrackerCompleted rebuilds the prompt from the freshly retrieved
// categories and swaps it into the live session.
func (c *Coordinator) onTrackerCompleted(task MemoryTask, categories []CategorySummary) {
	prompt := Compose(c.cfg.BaseInstructions, categories)
	c.applyPrompt(prompt, categories)
	c.logger.Info().
		Str("taskID", task.TaskID).
		Int("categories", len(categories)).
		Msg("Prompt refreshed from completed task")
}

// onTrackerFailed logs the failure with enough context to diagnose. The
// prompt is left untouched; the conversation continues on the last applied
// value.
func (c *Coordinator) onTrackerFailed(task MemoryTask, reason FailureReason, err error) {
	c.logger.Error().
		Err(err).
		Str("taskID", task.TaskID).
		Str("userID", task.UserID).
		Str("reason", string(reason)).
		Int("attempts", task.Attempts).
		Msg("Memorization task did not complete")
}

// applyPrompt atomically replaces the session's instructions. Overlapping
// refreshes are serialized here, so whichever completion arrives last is
// the prompt that sticks (last-completion-wins).
func (c *Coordinator) applyPrompt(prompt string, categories []CategorySummary) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.target.SetInstructions(prompt)
	metrics.RecordPromptRefresh()

	if c.snapshots != nil {
		snapCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.snapshots.SavePromptSnapshot(snapCtx, c.cfg.UserID, c.cfg.AgentID, prompt); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to persist prompt snapshot")
		}
	}
	if c.onRefresh != nil {
		c.onRefresh(prompt, categories)
	}
}

// Refresh retrieves the current categories and applies the recomposed
// prompt without submitting anything. Used by the periodic refresher for
// long-lived sessions.
func (c *Coordinator) Refresh(ctx context.Context) error {
	categories, err := c.client.RetrieveDefaultCategories(ctx, c.cfg.UserID, c.cfg.AgentID)
	if err != nil {
		return fmt.Errorf("refresh categories: %w", err)
	}
	prompt := Compose(c.cfg.BaseInstructions, categories)
	c.applyPrompt(prompt, categories)
	c.logger.Debug().Int("categories", len(categories)).Msg("Prompt refreshed on schedule")
	return nil
}

// ActiveTrackers returns the number of unresolved submissions.
func (c *Coordinator) ActiveTrackers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.trackers)
}

// BufferedTurns returns the number of turns waiting for the next flush.
func (c *Coordinator) BufferedTurns() int {
	return c.buffer.Len()
}

// OnClose flushes the remaining buffered turns even below the threshold,
// then waits for outstanding trackers up to the close grace period.
// Trackers still polling when the grace period expires are cancelled and
// transition to abandoned. Safe to call more than once.
func (c *Coordinator) OnClose(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.submitAndTrack(ctx)

	c.mu.Lock()
	outstanding := make([]*TaskTracker, 0, len(c.trackers))
	for _, tracker := range c.trackers {
		outstanding = append(outstanding, tracker)
	}
	c.mu.Unlock()

	if len(outstanding) > 0 {
		c.logger.Info().Int("trackers", len(outstanding)).Dur("grace", c.cfg.CloseGracePeriod).Msg("Waiting for outstanding memorization tasks")
		waitCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseGracePeriod)
		for _, tracker := range outstanding {
			select {
			case <-tracker.Done():
			case <-waitCtx.Done():
			}
		}
		cancel()
	}

	c.runCancel()
	for _, tracker := range outstanding {
		<-tracker.Done()
	}
	c.logger.Info().Msg("Memory coordinator closed")
}
