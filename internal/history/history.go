// Package history persists session and job lifecycle records to a local
// sqlite database so that completed work can be inspected after the fact
// (`sandbox-tools history`). Recording failures are never allowed to fail
// the RPC that triggered them.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	conn *sql.DB
}

// Open opens (creating if needed) the history database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database at %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create history tables",
		sql: `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT
);

CREATE TABLE IF NOT EXISTS jobs (
	pid INTEGER PRIMARY KEY,
	command TEXT NOT NULL,
	state TEXT NOT NULL,
	exit_code INTEGER,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
`,
	},
}

func runMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`); err != nil {
		return fmt.Errorf("failed to ensure _meta table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("failed to initialize schema version: %w", err)
	}

	var currentRaw string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&currentRaw); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	currentVersion, err := strconv.Atoi(currentRaw)
	if err != nil {
		return fmt.Errorf("invalid schema version %q: %w", currentRaw, err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("failed migration %03d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
			return fmt.Errorf("failed to set schema version %03d: %w", m.version, err)
		}
	}
	return tx.Commit()
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SessionStarted records a new session.
func (s *Store) SessionStarted(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions (name, started_at) VALUES (?, ?)`,
		name, timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// SessionEnded stamps the most recent open record for the session name.
func (s *Store) SessionEnded(ctx context.Context, name string) error {
	_, err := s.conn.ExecContext(ctx, `
UPDATE sessions SET ended_at = ?
WHERE id = (SELECT id FROM sessions WHERE name = ? AND ended_at IS NULL ORDER BY id DESC LIMIT 1)
`, timestamp(time.Now()), name)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

// JobStarted records a submitted job.
func (s *Store) JobStarted(ctx context.Context, pid int, command string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO jobs (pid, command, state, started_at) VALUES (?, ?, 'running', ?)`,
		pid, command, timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}
	return nil
}

// JobFinished records a job's terminal state. exitCode is nil for killed
// jobs.
func (s *Store) JobFinished(ctx context.Context, pid int, state string, exitCode *int) error {
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET state = ?, exit_code = ?, finished_at = ? WHERE pid = ?`,
		state, code, timestamp(time.Now()), pid)
	if err != nil {
		return fmt.Errorf("failed to record job finish: %w", err)
	}
	return nil
}

// JobRecord is one row of job history.
type JobRecord struct {
	Pid       int
	Command   string
	State     string
	ExitCode  *int
	StartedAt string
	FinishedAt string
}

// RecentJobs returns up to limit jobs, newest first.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT pid, command, state, exit_code, started_at, COALESCE(finished_at, '')
FROM jobs ORDER BY started_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []JobRecord
	for rows.Next() {
		var r JobRecord
		var code sql.NullInt64
		if err := rows.Scan(&r.Pid, &r.Command, &r.State, &code, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		if code.Valid {
			c := int(code.Int64)
			r.ExitCode = &c
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SessionRecord is one row of session history.
type SessionRecord struct {
	Name      string
	StartedAt string
	EndedAt   string
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT name, started_at, COALESCE(ended_at, '')
FROM sessions ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.Name, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
