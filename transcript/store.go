// Package transcript persists conversation history: sessions, their turns,
// and the recap written when a session closes.
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/magpievoice/magpie/memory"
)

// ErrNotFound is returned when a requested session or recap does not exist.
var ErrNotFound = errors.New("transcript: not found")

// SessionRecord is one persisted session.
type SessionRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	AgentID    string     `json:"agent_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Recap is the short summary written for a finished session.
type Recap struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store handles persistence of sessions and their turns.
type Store struct {
	db *sql.DB
}

// NewStore creates a transcript store over the given database. The schema
// is managed by the migrations package.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSession records the start of a session.
func (s *Store) CreateSession(ctx context.Context, id, userID, agentID string) error {
	query := sq.Insert("sessions").
		Columns("id", "user_id", "agent_id", "started_at").
		Values(id, userID, agentID, time.Now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// AppendTurn saves one turn of a session.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn memory.ConversationTurn) error {
	createdAt := turn.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := sq.Insert("turns").
		Columns("session_id", "role", "text", "created_at").
		Values(sessionID, string(turn.Role), turn.Text, createdAt.Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// ListTurns returns a session's turns in the order they were spoken.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]memory.ConversationTurn, error) {
	query := sq.Select("role", "text", "created_at").
		From("turns").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var turns []memory.ConversationTurn
	for rows.Next() {
		var role, text string
		var createdAt int64
		if err := rows.Scan(&role, &text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, memory.ConversationTurn{
			Role:      memory.Role(role),
			Text:      text,
			Timestamp: time.Unix(createdAt, 0).UTC(),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

// FinishSession stamps the session's end time. Finishing an already
// finished session keeps the original timestamp.
func (s *Store) FinishSession(ctx context.Context, sessionID string) error {
	query := sq.Update("sessions").
		Set("finished_at", time.Now().Unix()).
		Where(sq.Eq{"id": sessionID}).
		Where(sq.Eq{"finished_at": nil})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// SaveRecap stores the recap for a session, replacing any previous one.
func (s *Store) SaveRecap(ctx context.Context, recap Recap) error {
	createdAt := recap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := sq.Insert("recaps").
		Columns("session_id", "summary", "model", "created_at").
		Values(recap.SessionID, recap.Summary, recap.Model, createdAt.Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	// SQLite requires "OR REPLACE" to come after "INSERT", so we replace
	// "INSERT INTO" with "INSERT OR REPLACE INTO"
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	_, err = s.db.ExecContext(ctx, queryStr, args...)
	return err
}

// GetRecap returns the recap for a session, or ErrNotFound.
func (s *Store) GetRecap(ctx context.Context, sessionID string) (Recap, error) {
	query := sq.Select("session_id", "summary", "model", "created_at").
		From("recaps").
		Where(sq.Eq{"session_id": sessionID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return Recap{}, fmt.Errorf("build query: %w", err)
	}

	var recap Recap
	var createdAt int64
	err = s.db.QueryRowContext(ctx, queryStr, args...).
		Scan(&recap.SessionID, &recap.Summary, &recap.Model, &createdAt)
	if err == sql.ErrNoRows {
		return Recap{}, ErrNotFound
	}
	if err != nil {
		return Recap{}, fmt.Errorf("failed to get recap: %w", err)
	}

	recap.CreatedAt = time.Unix(createdAt, 0).UTC()
	return recap, nil
}

// GetSession returns one persisted session, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (SessionRecord, error) {
	query := sq.Select("id", "user_id", "agent_id", "started_at", "finished_at").
		From("sessions").
		Where(sq.Eq{"id": sessionID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return SessionRecord{}, fmt.Errorf("build query: %w", err)
	}

	rec, err := scanSession(s.db.QueryRowContext(ctx, queryStr, args...))
	if err == sql.ErrNoRows {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

// ListSessions returns persisted sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := sq.Select("id", "user_id", "agent_id", "started_at", "finished_at").
		From("sessions").
		OrderBy("started_at DESC").
		Limit(uint64(limit)) //nolint:gosec // limit is validated above

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // No remedy for rows close errors

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.AgentID, &startedAt, &finishedAt); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		rec.FinishedAt = &t
	}
	return rec, nil
}
