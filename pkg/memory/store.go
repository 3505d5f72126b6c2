// Package memory provides the persistent context store: a single-table
// SQLite key/value store carrying conversation memory and project identity
// across pipeline runs. Reads and writes happen only at the pipeline's entry
// and exit boundaries; concurrent runs against the same store are
// last-write-wins.
package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"patchsmith/pkg/logx"
)

// Well-known store keys.
const (
	KeyConversation   = "conversation_memory"
	KeyProjectContext = "project_context"
)

// Store is a SQLite-backed key/value store. It is an explicit dependency
// passed to the pipeline, not a process-wide singleton, so tests and
// concurrent pipelines can each own their own.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open creates or opens the store at path, creating parent directories as
// needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS context (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store schema: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, logger: logx.NewLogger("memory")}, nil
}

// Read returns the value for key, or fallback when the key is absent. Store
// errors also degrade to the fallback: memory is advisory and must never
// block a run.
func (s *Store) Read(key, fallback string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM context WHERE key = ?`, key).Scan(&value)
	switch {
	case err == nil:
		return value
	case errors.Is(err, sql.ErrNoRows):
		return fallback
	default:
		s.logger.Warn("read of %q failed: %v", key, err)
		return fallback
	}
}

// Write stores value under key, replacing any prior value.
func (s *Store) Write(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO context (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write of %q failed: %w", key, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
