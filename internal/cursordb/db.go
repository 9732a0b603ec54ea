// Package cursordb reads Cursor's state.vscdb key-value store and projects
// composers into the unified session model.
//
// The database belongs to Cursor; it is opened strictly read-only and never
// written. Cursor itself is the concurrent writer.
package cursordb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// readTimeout caps any single poll read against the database.
const readTimeout = 2 * time.Second

// KV abstracts the cursorDiskKV table so the reader and the poll adapter can
// be tested against an in-memory fake.
type KV interface {
	// Get returns the value at key, or ok=false when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// ListPrefix returns all rows whose key starts with prefix.
	ListPrefix(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}

// DefaultDBPath returns the platform-specific location of Cursor's global
// state.vscdb.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User", "globalStorage", "state.vscdb")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Cursor", "User", "globalStorage", "state.vscdb")
	default:
		return filepath.Join(home, ".config", "Cursor", "User", "globalStorage", "state.vscdb")
	}
}

// sqliteKV is the real KV over a read-only SQLite handle.
type sqliteKV struct {
	db *sql.DB
}

// Open opens state.vscdb read-only. Missing files surface as an error so the
// adapter can mark itself unavailable.
func Open(path string) (KV, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cursor db not found: %w", err)
	}

	dsn := "file:" + path + "?mode=ro&_busy_timeout=2000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cursor db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cursor db: %w", err)
	}
	return &sqliteKV{db: db}, nil
}

func (s *sqliteKV) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM cursorDiskKV WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *sqliteKV) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	// LIKE with an escaped prefix; cursorDiskKV keys never contain wildcards
	// but the ids are opaque, so escape anyway.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM cursorDiskKV WHERE key LIKE ? ESCAPE '\'`, escaped+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *sqliteKV) Close() error {
	return s.db.Close()
}
