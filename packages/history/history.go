// Package history persists a log of dispatched calls to a local SQLite
// database, one row per call.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/abdul-hamid-achik/fetchkit/packages/fetch"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id         TEXT PRIMARY KEY,
	method     TEXT NOT NULL,
	url        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	ok         INTEGER NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_created_at ON calls(created_at);
`

// Record is one logged call. Status is 0 when no response was received.
type Record struct {
	ID        string
	Method    string
	URL       string
	Status    int
	OK        bool
	ErrorCode string
	Attempts  int
	Duration  time.Duration
	CreatedAt time.Time
}

// Store is a SQLite-backed call log.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the call log at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordResponse logs a completed call and returns the record ID.
func (s *Store) RecordResponse(ctx context.Context, resp *fetch.Response) (string, error) {
	method := "GET"
	if resp.Config != nil && resp.Config.Method != "" {
		method = resp.Config.Method
	}
	return s.insert(ctx, Record{
		Method:   method,
		URL:      resp.URL,
		Status:   resp.Status,
		OK:       resp.OK,
		Attempts: len(resp.Attempts),
		Duration: resp.TotalDuration,
	})
}

// RecordError logs a failed call and returns the record ID. When the failure
// carries a partial response its status and attempt history are kept.
func (s *Store) RecordError(ctx context.Context, ferr *fetch.Error) (string, error) {
	rec := Record{
		Method:    "GET",
		ErrorCode: string(ferr.Code),
	}
	if ferr.Config != nil {
		if ferr.Config.Method != "" {
			rec.Method = ferr.Config.Method
		}
		rec.URL = ferr.Config.URL
	}
	if resp := ferr.Response; resp != nil {
		rec.URL = resp.URL
		rec.Status = resp.Status
		rec.Attempts = len(resp.Attempts)
		rec.Duration = resp.TotalDuration
	}
	return s.insert(ctx, rec)
}

func (s *Store) insert(ctx context.Context, rec Record) (string, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, method, url, status, ok, error_code, attempts, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Method, rec.URL, rec.Status, rec.OK, rec.ErrorCode,
		rec.Attempts, rec.Duration.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert call record: %w", err)
	}
	return rec.ID, nil
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, method, url, status, ok, error_code, attempts, duration_ms, created_at
		 FROM calls ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var durationMs int64
		if err := rows.Scan(&rec.ID, &rec.Method, &rec.URL, &rec.Status, &rec.OK,
			&rec.ErrorCode, &rec.Attempts, &durationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}
