package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no recording has the requested ID
var ErrNotFound = errors.New("recording not found")

// Recording is one catalog entry
type Recording struct {
	ID              string     `json:"id"`
	Name            string     `json:"name,omitempty"`
	Directory       string     `json:"directory"`
	Output          string     `json:"output"`
	TargetType      string     `json:"target_type"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Location        string     `json:"location,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Store keeps the recording catalog in SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		directory TEXT NOT NULL,
		output TEXT NOT NULL,
		targetType TEXT NOT NULL,
		startedAt REAL NOT NULL,
		endedAt REAL,
		durationSeconds REAL NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_started ON recordings(startedAt);
`

// Open opens (and creates if needed) the catalog at path. ":memory:" gives
// a private in-memory catalog.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps an in-memory catalog shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Debug("Catalog opened", slog.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts r or replaces the entry with the same ID
func (s *Store) Upsert(ctx context.Context, r Recording) error {
	if r.ID == "" {
		return fmt.Errorf("recording ID cannot be empty")
	}

	var endedAt sql.NullFloat64
	if r.EndedAt != nil {
		endedAt = sql.NullFloat64{Float64: unixFromTime(*r.EndedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, name, directory, output, targetType, startedAt, endedAt, durationSeconds, location, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			directory = excluded.directory,
			output = excluded.output,
			targetType = excluded.targetType,
			startedAt = excluded.startedAt,
			endedAt = excluded.endedAt,
			durationSeconds = excluded.durationSeconds,
			location = excluded.location,
			error = excluded.error
	`, r.ID, r.Name, r.Directory, r.Output, r.TargetType, unixFromTime(r.StartedAt), endedAt,
		r.DurationSeconds, r.Location, r.Error)
	if err != nil {
		return fmt.Errorf("upsert recording %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the recording with the given ID
func (s *Store) Get(ctx context.Context, id string) (Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, directory, output, targetType, startedAt, endedAt, durationSeconds, location, error
		FROM recordings
		WHERE id = ?
	`, id)

	r, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// List returns recordings newest first. A limit <= 0 returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, directory, output, targetType, startedAt, endedAt, durationSeconds, location, error
		FROM recordings
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var recordings []Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, r)
	}
	return recordings, rows.Err()
}

// Delete removes the entry with the given ID. The recording's files are not touched.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (Recording, error) {
	var (
		r         Recording
		startedAt float64
		endedAt   sql.NullFloat64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Directory, &r.Output, &r.TargetType,
		&startedAt, &endedAt, &r.DurationSeconds, &r.Location, &r.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Recording{}, err
		}
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	r.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		r.EndedAt = &t
	}
	return r, nil
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
