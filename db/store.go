package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session is one conversation scope (group or direct chat). A row is created
// lazily the first time a session is referenced and is never deleted.
type Session struct {
	ID             string
	CurrentLogName string
	Recording      bool
	CreatedAt      int64
	UpdatedAt      int64
}

// Log is a named capture stream within a session. (session, name) is unique.
type Log struct {
	ID        int64
	SessionID string
	Name      string
	Ended     bool
	CreatedAt int64
	UpdatedAt int64
	Items     []Item
}

// LogSummary is a Log without its items, plus the item count.
type LogSummary struct {
	ID        int64
	Name      string
	Ended     bool
	CreatedAt int64
	UpdatedAt int64
	ItemCount int
}

// Item is one captured message. Items are append-only and read back in
// insertion order.
type Item struct {
	DisplayName string
	AuthorID    string
	Timestamp   int64
	Text        string
	SourceRef   string
}

// SessionUpdate describes a partial session update; nil fields are left unchanged.
type SessionUpdate struct {
	CurrentLogName *string
	Recording      *bool
}

// LogUpdate describes a partial log update; nil fields are left unchanged.
type LogUpdate struct {
	Ended     *bool
	CreatedAt *int64
}

// Store implements the durable session/log/item model on Postgres.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// GetOrCreateSession returns the session row, inserting a fresh non-recording
// one on first reference. Idempotent.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID string) (*Session, error) {
	now := nowMillis()
	// ON CONFLICT DO NOTHING keeps the existing row untouched on a repeat call.
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sessions (session_id, current_log_name, recording, created_at, updated_at)
		VALUES ($1, '', FALSE, $2, $2) ON CONFLICT (session_id) DO NOTHING`, sessionID, now); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.getSession(ctx, sessionID)
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `SELECT session_id, current_log_name, recording, created_at, updated_at
		FROM sessions WHERE session_id = $1`, sessionID).
		Scan(&sess.ID, &sess.CurrentLogName, &sess.Recording, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

// UpdateSession applies a partial update. Returns ErrNotFound if the session
// row is absent.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{nowMillis()}
	if upd.CurrentLogName != nil {
		args = append(args, *upd.CurrentLogName)
		sets = append(sets, fmt.Sprintf("current_log_name = $%d", len(args)))
	}
	if upd.Recording != nil {
		args = append(args, *upd.Recording)
		sets = append(sets, fmt.Sprintf("recording = $%d", len(args)))
	}
	args = append(args, sessionID)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE sessions SET %s WHERE session_id = $%d",
		strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrCreateLog returns the named log, inserting a fresh one (ended=false)
// on first reference. Idempotent on (session, name).
func (s *Store) GetOrCreateLog(ctx context.Context, sessionID, name string) (*Log, error) {
	now := nowMillis()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO logs (session_id, name, ended, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $3) ON CONFLICT (session_id, name) DO NOTHING`, sessionID, name, now); err != nil {
		return nil, fmt.Errorf("insert log: %w", err)
	}
	var lg Log
	err := s.db.QueryRowContext(ctx, `SELECT id, session_id, name, ended, created_at, updated_at
		FROM logs WHERE session_id = $1 AND name = $2`, sessionID, name).
		Scan(&lg.ID, &lg.SessionID, &lg.Name, &lg.Ended, &lg.CreatedAt, &lg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("select log: %w", err)
	}
	return &lg, nil
}

// UpdateLog applies a partial update to log metadata.
func (s *Store) UpdateLog(ctx context.Context, logID int64, upd LogUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{nowMillis()}
	if upd.Ended != nil {
		args = append(args, *upd.Ended)
		sets = append(sets, fmt.Sprintf("ended = $%d", len(args)))
	}
	if upd.CreatedAt != nil {
		args = append(args, *upd.CreatedAt)
		sets = append(sets, fmt.Sprintf("created_at = $%d", len(args)))
	}
	args = append(args, logID)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE logs SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return fmt.Errorf("update log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendItems appends the batch in order within a single transaction and bumps
// the log's updated_at. Returns the item counts before and after the append so
// callers can run threshold checks. A failure rolls back the whole batch.
func (s *Store) AppendItems(ctx context.Context, logID int64, items []Item) (before, after int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE log_id = $1`, logID).Scan(&before); err != nil {
		return 0, 0, fmt.Errorf("count items: %w", err)
	}
	for _, it := range items {
		if _, err = tx.ExecContext(ctx, `INSERT INTO items (log_id, display_name, author_id, ts, body, source_ref)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			logID, it.DisplayName, it.AuthorID, it.Timestamp, it.Text, it.SourceRef); err != nil {
			return 0, 0, fmt.Errorf("insert item: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx, `UPDATE logs SET updated_at = $1 WHERE id = $2`, nowMillis(), logID); err != nil {
		return 0, 0, fmt.Errorf("bump log: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit append: %w", err)
	}
	return before, before + len(items), nil
}

// ReadLog returns the named log with its items in insertion order, or
// ErrNotFound.
func (s *Store) ReadLog(ctx context.Context, sessionID, name string) (*Log, error) {
	var lg Log
	err := s.db.QueryRowContext(ctx, `SELECT id, session_id, name, ended, created_at, updated_at
		FROM logs WHERE session_id = $1 AND name = $2`, sessionID, name).
		Scan(&lg.ID, &lg.SessionID, &lg.Name, &lg.Ended, &lg.CreatedAt, &lg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select log: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT display_name, author_id, ts, body, source_ref
		FROM items WHERE log_id = $1 ORDER BY id`, lg.ID)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.DisplayName, &it.AuthorID, &it.Timestamp, &it.Text, &it.SourceRef); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		lg.Items = append(lg.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return &lg, nil
}

// ListLogs returns summaries for all logs in the session, newest first.
func (s *Store) ListLogs(ctx context.Context, sessionID string) ([]LogSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.id, l.name, l.ended, l.created_at, l.updated_at,
			(SELECT COUNT(*) FROM items i WHERE i.log_id = l.id)
		FROM logs l WHERE l.session_id = $1 ORDER BY l.created_at DESC, l.id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select logs: %w", err)
	}
	defer rows.Close()
	var out []LogSummary
	for rows.Next() {
		var ls LogSummary
		if err := rows.Scan(&ls.ID, &ls.Name, &ls.Ended, &ls.CreatedAt, &ls.UpdatedAt, &ls.ItemCount); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// ClearItems deletes all items under a log, leaving the log row in place.
// Used when a log name is reused to restart the stream.
func (s *Store) ClearItems(ctx context.Context, logID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE log_id = $1`, logID); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

// ClearLog deletes the named log and all of its items in one transaction.
// Returns ErrNotFound if the log does not exist.
func (s *Store) ClearLog(ctx context.Context, sessionID, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	var logID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM logs WHERE session_id = $1 AND name = $2`, sessionID, name).Scan(&logID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select log: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE log_id = $1`, logID); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM logs WHERE id = $1`, logID); err != nil {
		return fmt.Errorf("delete log: %w", err)
	}
	return tx.Commit()
}
