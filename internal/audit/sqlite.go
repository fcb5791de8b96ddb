package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink keeps records in the audit_records table of a SQLite file.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path in WAL mode and creates
// the table if needed.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("ping sqlite audit store %s: %w", path, err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id       TEXT PRIMARY KEY,
			saved_at INTEGER NOT NULL,
			blob     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_saved_at ON audit_records(saved_at);
	`); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return SinkSQLite }

func (s *SQLiteSink) Store(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, saved_at, blob) VALUES (?, ?, ?)`,
		e.ID, e.SavedAt.UnixMilli(), e.Blob)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Lookup(ctx context.Context, id string) (Entry, error) {
	var (
		ms   int64
		blob string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT saved_at, blob FROM audit_records WHERE id = ?`, id).Scan(&ms, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("query audit record: %w", err)
	}
	return Entry{ID: id, SavedAt: time.UnixMilli(ms).UTC(), Blob: blob}, nil
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }
