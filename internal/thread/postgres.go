package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byteagent/byte/internal/turn"
)

// Postgres is the production Store backed by PostgreSQL.
// Tool invocations are stored as a JSONB column on the turn row, mirroring
// the shape the protocol core produced them in.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store.
// logger may be nil, in which case slog.Default() is used.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

var _ Store = (*Postgres)(nil)

// CreateThread inserts a thread row with a server-generated uuid.
func (s *Postgres) CreateThread(ctx context.Context, userID int64, title string) (*Thread, error) {
	const q = `
		INSERT INTO threads (user_id, title)
		VALUES ($1, $2)
		RETURNING id, user_id, title, created_at, updated_at`

	var th Thread
	err := s.pool.QueryRow(ctx, q, userID, title).
		Scan(&th.ID, &th.UserID, &th.Title, &th.CreatedAt, &th.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	s.logger.Debug("thread created", "thread_id", th.ID, "user_id", userID)
	return &th, nil
}

// GetThread fetches one thread, returning ErrNotFound when absent.
func (s *Postgres) GetThread(ctx context.Context, id string) (*Thread, error) {
	const q = `
		SELECT id, user_id, title, created_at, updated_at
		FROM threads WHERE id = $1`

	var th Thread
	err := s.pool.QueryRow(ctx, q, id).
		Scan(&th.ID, &th.UserID, &th.Title, &th.CreatedAt, &th.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	return &th, nil
}

// ListThreads returns the user's threads, most recently updated first.
func (s *Postgres) ListThreads(ctx context.Context, userID int64) ([]*Thread, error) {
	const q = `
		SELECT id, user_id, title, created_at, updated_at
		FROM threads WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		var th Thread
		if err := rows.Scan(&th.ID, &th.UserID, &th.Title, &th.CreatedAt, &th.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, &th)
	}
	return out, rows.Err()
}

// DeleteThread removes the thread; turns go with it via ON DELETE CASCADE.
func (s *Postgres) DeleteThread(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchThread bumps updated_at so the thread sorts to the top of listings.
func (s *Postgres) TouchThread(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE threads SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch thread %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn persists one finalized turn with the next per-thread sequence
// number. The insert and the sequence read run in one statement so two
// writers on the same thread cannot race to the same slot.
func (s *Postgres) AppendTurn(ctx context.Context, t *turn.Turn) error {
	invocations, err := json.Marshal(t.Invocations)
	if err != nil {
		return fmt.Errorf("marshal invocations: %w", err)
	}

	const q = `
		INSERT INTO turns (id, thread_id, seq, role, reasoning, answer, invocations, error, created_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM turns WHERE thread_id = $2`

	if _, err := s.pool.Exec(ctx, q,
		t.ID, t.ThreadID, t.Role, t.ReasoningText, t.AnswerText,
		invocations, t.Err, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("append turn to thread %s: %w", t.ThreadID, err)
	}
	return nil
}

// History loads the thread's turns in append order.
func (s *Postgres) History(ctx context.Context, threadID string) ([]*turn.Turn, error) {
	const q = `
		SELECT id, thread_id, role, reasoning, answer, invocations, error, created_at
		FROM turns WHERE thread_id = $1
		ORDER BY seq ASC`

	rows, err := s.pool.Query(ctx, q, threadID)
	if err != nil {
		return nil, fmt.Errorf("load history for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []*turn.Turn
	for rows.Next() {
		var (
			t    turn.Turn
			invs []byte
		)
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.Role, &t.ReasoningText,
			&t.AnswerText, &invs, &t.Err, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if len(invs) > 0 {
			if err := json.Unmarshal(invs, &t.Invocations); err != nil {
				return nil, fmt.Errorf("unmarshal invocations for turn %s: %w", t.ID, err)
			}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
