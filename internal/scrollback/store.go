// Package scrollback persists serialized terminal buffers in sqlite so a
// console restart can still resume a session's view. One row per session;
// rows are dropped when the owning session ends.
package scrollback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrollback (
	session_id TEXT PRIMARY KEY,
	buffer     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store is a sqlite-backed terminal.BufferStore.
type Store struct {
	db *sql.DB
}

// Open creates or opens the scrollback database at path, creating parent
// directories as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the session's serialized buffer.
func (s *Store) Save(ctx context.Context, sessionID, buffer string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scrollback(session_id, buffer, updated_at) VALUES (?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	buffer=excluded.buffer,
	updated_at=excluded.updated_at
`, sessionID, buffer, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save scrollback: %w", err)
	}
	return nil
}

// Load returns the session's buffer, or ok=false when none is captured.
func (s *Store) Load(ctx context.Context, sessionID string) (string, bool, error) {
	var buffer string
	err := s.db.QueryRowContext(ctx,
		`SELECT buffer FROM scrollback WHERE session_id = ?`, sessionID).Scan(&buffer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load scrollback: %w", err)
	}
	return buffer, true, nil
}

// Invalidate drops the session's buffer. Missing rows are not an error.
func (s *Store) Invalidate(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM scrollback WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("invalidate scrollback: %w", err)
	}
	return nil
}
