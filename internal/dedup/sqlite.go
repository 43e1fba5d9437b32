package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS archived_alerts (
	content_hash TEXT PRIMARY KEY,
	archive_ref  TEXT NOT NULL,
	recorded_at  DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteIndex persists the hash index next to the archive so restarts do not
// depend on every archived file still being readable.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (or creates) the index at path. ":memory:" is
// accepted for tests.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening dedup index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging dedup index: %w", err)
	}

	// Single connection avoids "database is locked" under concurrent workers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing dedup index: %w", err)
		}
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Lookup(ctx context.Context, hash string) (string, bool, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		"SELECT archive_ref FROM archived_alerts WHERE content_hash = ?", hash).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up %s: %w", hash, err)
	}
	return ref, true, nil
}

func (s *SQLiteIndex) Add(ctx context.Context, hash, ref string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO archived_alerts (content_hash, archive_ref) VALUES (?, ?)", hash, ref)
	if err != nil {
		return fmt.Errorf("recording %s: %w", hash, err)
	}
	return nil
}

func (s *SQLiteIndex) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM archived_alerts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting index: %w", err)
	}
	return n, nil
}

// Ping satisfies the health probe.
func (s *SQLiteIndex) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
