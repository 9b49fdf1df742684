package memory

import "context"

// TaskJournal records the lifecycle of memorization tasks for diagnosis.
// Journal failures are logged by callers and never interrupt the pipeline.
type TaskJournal interface {
	// RecordSubmission persists a newly submitted task.
	RecordSubmission(ctx context.Context, task MemoryTask) error

	// RecordTransition persists a state change for a task. reason is empty
	// except for failure and abandonment transitions.
	RecordTransition(ctx context.Context, taskID string, state TaskState, attempts int, reason string) error
}

// NopJournal discards all records. Used when no database is configured and
// in tests that do not care about the journal.
type NopJournal struct{}

func (NopJournal) RecordSubmission(context.Context, MemoryTask) error { return nil }

func (NopJournal) RecordTransition(context.Context, string, TaskState, int, string) error {
	return nil
}
