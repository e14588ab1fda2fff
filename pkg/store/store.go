// Package store persists an execution log in SQLite: one row per submitted
// command with its final status and rendered transcript. Like the history
// sink it sits off the critical path; callers treat write failures as
// non-fatal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var ErrEmptyID = errors.New("execution ID cannot be empty")

// Execution is one recorded run.
type Execution struct {
	ID         string
	Command    string
	Status     string
	Transcript string
	CreatedAt  time.Time
}

// Store is the execution log.
type Store interface {
	Append(ctx context.Context, exec *Execution) error
	Recent(ctx context.Context, limit int) ([]*Execution, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the execution log at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// _busy_timeout: wait up to 5 seconds if the database is locked.
	// _journal_mode=WAL: better behavior for concurrent readers.
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// Serialize writes through a single connection (SQLite limitation).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			command TEXT,
			status TEXT,
			transcript TEXT,
			created_at TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Append records one execution.
func (s *SQLiteStore) Append(ctx context.Context, exec *Execution) error {
	if exec.ID == "" {
		return ErrEmptyID
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO executions (id, command, status, transcript, created_at) VALUES (?, ?, ?, ?, ?)",
		exec.ID, exec.Command, exec.Status, exec.Transcript, exec.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Recent returns up to limit executions, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, command, status, transcript, created_at FROM executions ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var exec Execution
		var createdAt string
		if err := rows.Scan(&exec.ID, &exec.Command, &exec.Status, &exec.Transcript, &createdAt); err != nil {
			return nil, err
		}
		exec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
