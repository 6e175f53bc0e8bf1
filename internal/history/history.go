// Package history keeps an SQLite audit log of every executed command.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/abdul-hamid-achik/aishell/internal/logging"
)

// Approval sources recorded with each command
const (
	ApprovedByUser   = "user"
	ApprovedByAuto   = "auto"
	ApprovedBySafe   = "safe"
	ApprovedByDirect = "direct"
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	command     TEXT NOT NULL,
	directory   TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	approved_by TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_created ON commands(created_at);
`

// Entry is one audited command.
type Entry struct {
	ID         int64
	SessionID  string
	Command    string
	Directory  string
	ExitCode   int
	ApprovedBy string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Recorder is what the orchestrator needs from the audit log.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Store is the SQLite-backed Recorder.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenOrDisable opens the log, returning a no-op recorder on failure.
func OpenOrDisable(path string) Recorder {
	s, err := Open(path)
	if err != nil {
		logging.Warn("command history disabled", logging.Path(path), logging.Error(err))
		return Nop{}
	}
	return s
}

// Record appends e. Zero CreatedAt means now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (session_id, command, directory, exit_code, approved_by, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Command, e.Directory, e.ExitCode, e.ApprovedBy,
		e.Duration.Milliseconds(), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record command: %w", err)
	}
	return nil
}

// Recent returns the last n entries, newest first. n <= 0 returns all.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, command, directory, exit_code, approved_by, duration_ms, created_at
		 FROM commands ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ms      int64
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.Directory,
			&e.ExitCode, &e.ApprovedBy, &ms, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Nop records nothing. It is used in incognito and when the database
// cannot be opened.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error { return nil }

var (
	_ Recorder = (*Store)(nil)
	_ Recorder = Nop{}
)
