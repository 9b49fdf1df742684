package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// SQLiteJournal persists task lifecycle records to the memory_tasks table.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal creates a journal backed by the given database. The
// schema is managed by the migrations package.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if db == nil {
		return nil, fmt.Errorf("memory journal: db cannot be nil")
	}
	return &SQLiteJournal{db: db}, nil
}

// RecordSubmission implements TaskJournal.
func (j *SQLiteJournal) RecordSubmission(ctx context.Context, task MemoryTask) error {
	query := sq.Insert("memory_tasks").
		Columns("task_id", "user_id", "agent_id", "state", "attempts", "reason", "submitted_at", "updated_at").
		Values(task.TaskID, task.UserID, task.AgentID, string(task.State), task.Attempts, "", task.SubmittedAt.Unix(), time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = j.db.ExecContext(ctx, queryStr, args...)
	return err
}

// RecordTransition implements TaskJournal.
func (j *SQLiteJournal) RecordTransition(ctx context.Context, taskID string, state TaskState, attempts int, reason string) error {
	query := sq.Update("memory_tasks").
		Set("state", string(state)).
		Set("attempts", attempts).
		Set("reason", reason).
		Set("updated_at", time.Now().Unix()).
		Where(sq.Eq{"task_id": taskID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = j.db.ExecContext(ctx, queryStr, args...)
	return err
}

// TaskRecord is one journal row, as returned by ListTasks.
type TaskRecord struct {
	TaskID      string    `json:"task_id"`
	UserID      string    `json:"user_id"`
	AgentID     string    `json:"agent_id"`
	State       TaskState `json:"state"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListTasks returns journal rows for a user/agent pair, newest first.
func (j *SQLiteJournal) ListTasks(ctx context.Context, userID, agentID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := sq.Select("task_id", "user_id", "agent_id", "state", "attempts", "reason", "submitted_at", "updated_at").
		From("memory_tasks").
		Where(sq.Eq{"user_id": userID, "agent_id": agentID}).
		OrderBy("submitted_at DESC").
		Limit(uint64(limit)) //nolint:gosec // limit is validated above

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := j.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Cleanup

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var state string
		var submittedAt, updatedAt int64
		if err := rows.Scan(&rec.TaskID, &rec.UserID, &rec.AgentID, &state, &rec.Attempts, &rec.Reason, &submittedAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.State = TaskState(state)
		rec.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
