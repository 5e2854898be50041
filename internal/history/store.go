// Package history keeps an audit log of commands the bridge has processed.
// It is observability only: the bridge never reads it to deliver or retry a
// command.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"gisbridge/internal/model"
)

var ErrNotFound = errors.New("not found")

const maxListLimit = 500

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InsertCommand(ctx context.Context, rec model.CommandRecord) error {
	if rec.CommandID == "" {
		return fmt.Errorf("command_id is required")
	}
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO commands(command_id, kind, params_json, result_code, exit_code, requested_at, completed_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, rec.CommandID, string(rec.Kind), rec.ParamsJSON, rec.ResultCode, nullableInt(rec.ExitCode), ts(rec.RequestedAt), nullableTS(rec.CompletedAt), rec.DurationMS)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]model.CommandRecord, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT command_id, kind, params_json, result_code, exit_code, requested_at, completed_at, duration_ms
FROM commands
ORDER BY requested_at DESC, command_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	out := make([]model.CommandRecord, 0, limit)
	for rows.Next() {
		rec, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter commands: %w", err)
	}
	return out, nil
}

func (s *Store) GetCommand(ctx context.Context, commandID string) (model.CommandRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT command_id, kind, params_json, result_code, exit_code, requested_at, completed_at, duration_ms
FROM commands
WHERE command_id = ?
`, commandID)
	rec, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CommandRecord{}, ErrNotFound
	}
	return rec, err
}

// PurgeBefore deletes records requested before the cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM commands WHERE requested_at < ?`, ts(cutoff)); err != nil {
		return fmt.Errorf("purge commands: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (model.CommandRecord, error) {
	var (
		rec         model.CommandRecord
		kind        string
		exitCode    sql.NullInt64
		requestedAt string
		completedAt sql.NullString
	)
	if err := row.Scan(&rec.CommandID, &kind, &rec.ParamsJSON, &rec.ResultCode, &exitCode, &requestedAt, &completedAt, &rec.DurationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CommandRecord{}, err
		}
		return model.CommandRecord{}, fmt.Errorf("scan command: %w", err)
	}
	rec.Kind = model.CommandKind(kind)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		rec.ExitCode = &v
	}
	t, err := parseTS(requestedAt)
	if err != nil {
		return model.CommandRecord{}, fmt.Errorf("parse requested_at: %w", err)
	}
	rec.RequestedAt = t
	if completedAt.Valid {
		t, err := parseTS(completedAt.String)
		if err != nil {
			return model.CommandRecord{}, fmt.Errorf("parse completed_at: %w", err)
		}
		rec.CompletedAt = &t
	}
	return rec, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTS(v *time.Time) any {
	if v == nil {
		return nil
	}
	return ts(*v)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
