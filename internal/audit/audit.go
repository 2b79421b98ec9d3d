// Package audit persists an operation trail for the engine in a SQLite
// database alongside the binary graph files. The trail is observability
// only: the engine functions fully without it, and a failed audit write
// never fails the operation it describes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// Entry is one recorded engine operation.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Op         string         `json:"op"`
	DurationMs int64          `json:"duration_ms"`
	Status     string         `json:"status"` // "success" or "error"
	Error      string         `json:"error,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Log is a SQLite-backed audit trail. It is safe for concurrent use; a
// nil Log is safe to use, all methods are no-ops on nil receiver.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id          TEXT PRIMARY KEY,
	ts          TEXT NOT NULL,
	op          TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	detail      TEXT
);
CREATE INDEX IF NOT EXISTS idx_operations_ts ON operations(ts);
CREATE INDEX IF NOT EXISTS idx_operations_op ON operations(op);
`

// Open creates or opens the audit database at dir/audit.db.
func Open(dir string, logger *slog.Logger) (*Log, error) {
	path := filepath.Join(dir, "audit.db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit schema: %w", err)
	}
	return &Log{db: db, logger: logger}, nil
}

// Record appends one operation entry. Failures are logged and swallowed.
// Safe to call on nil receiver.
func (l *Log) Record(op string, start time.Time, opErr error, detail map[string]any) {
	if l == nil || l.db == nil {
		return
	}

	status := "success"
	errText := ""
	if opErr != nil {
		status = "error"
		errText = opErr.Error()
	}

	var detailJSON []byte
	if len(detail) > 0 {
		detailJSON, _ = json.Marshal(detail)
	}

	_, err := l.db.Exec(
		`INSERT INTO operations (id, ts, op, duration_ms, status, error, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		start.UTC().Format(time.RFC3339Nano),
		op,
		time.Since(start).Milliseconds(),
		status,
		errText,
		string(detailJSON),
	)
	if err != nil && l.logger != nil {
		l.logger.Warn("audit record failed", "op", op, "err", err)
	}
}

// Recent returns the most recent entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, ts, op, duration_ms, status, error, detail FROM operations ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, errText, detail sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Op, &e.DurationMs, &e.Status, &errText, &detail); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		if ts.Valid {
			e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts.String)
		}
		e.Error = errText.String
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &e.Detail)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database. Safe to call on nil receiver.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
