// Package kv provides the persistent key-value snapshot store backing the
// prompt history, saved prompts, and daily stats stores.
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a process-global persisted key-value store. Each key holds one
// serialized snapshot; writes replace the whole value.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Open creates (or opens) the snapshot database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	// SQLite handles one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping kv store: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init kv schema: %w", err)
	}

	return &Store{db: db, stmts: make(map[string]*sql.Stmt)}, nil
}

// OpenMemory opens an in-memory store, used by tests and fakes.
func OpenMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, ":memory:")
}

// getStmt returns a cached prepared statement for query.
func (s *Store) getStmt(query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// Get returns the snapshot stored at key, or ok=false when absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	stmt, err := s.getStmt(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return "", false, err
	}
	var value string
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set replaces the snapshot stored at key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	stmt, err := s.getStmt(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, key, value, time.Now().UnixMilli())
	return err
}

// Delete removes the snapshot at key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	stmt, err := s.getStmt(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, key)
	return err
}

// Close releases cached statements and the underlying handle.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = map[string]*sql.Stmt{}
	s.mu.Unlock()
	return s.db.Close()
}
