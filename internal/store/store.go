// Package store keeps every outbound event in a SQLite log so runs can be
// inspected after the fact.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chr1sbest/autoinvite/internal/message"
)

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("event store unavailable")

// Record is one stored event.
type Record struct {
	ID        int64
	RunID     string
	Type      message.EventType
	Phase     string
	Level     message.Level
	Message   string
	Kind      string
	Page      int
	Primary   int
	Secondary int
	Errors    int
	Time      time.Time
}

// RunSummary describes one run in the log.
type RunSummary struct {
	RunID     string
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	LastPhase string
}

// Query filters List.
type Query struct {
	RunID string
	Limit int
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event log at path. ":memory:" is
// accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to event database: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			page INTEGER NOT NULL DEFAULT 0,
			primary_count INTEGER NOT NULL DEFAULT 0,
			secondary_count INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_run_idx ON events(run_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize event schema: %w", err)
		}
	}
	return nil
}

// Append stores ev.
func (s *Store) Append(ctx context.Context, ev message.Event) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	var d message.StatusData
	if ev.Data != nil {
		d = *ev.Data
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, type, phase, level, message, kind, page, primary_count, secondary_count, error_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.RunID,
		string(ev.Type),
		ev.Phase,
		string(d.Type),
		d.Message,
		ev.Kind,
		d.CurrentPage,
		d.PrimaryCount,
		d.SecondaryCount,
		d.ErrorCount,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// List returns events oldest first. With a limit, the most recent Limit
// events are returned.
func (s *Store) List(ctx context.Context, q Query) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}

	query := `SELECT id, run_id, type, phase, level, message, kind, page, primary_count, secondary_count, error_count, created_at
		FROM events`
	var args []any
	if q.RunID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, q.RunID)
	}
	query += ` ORDER BY id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			typ     string
			level   string
			created string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &typ, &r.Phase, &level, &r.Message, &r.Kind, &r.Page, &r.Primary, &r.Secondary, &r.Errors, &created); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.Type = message.EventType(typ)
		r.Level = message.Level(level)
		r.Time, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Runs summarizes every run, most recent first.
func (s *Store) Runs(ctx context.Context) ([]RunSummary, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, MIN(e.created_at), MAX(e.created_at), COUNT(*),
			(SELECT phase FROM events l WHERE l.run_id = e.run_id ORDER BY l.id DESC LIMIT 1)
		FROM events e
		GROUP BY e.run_id
		ORDER BY MAX(e.id) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r           RunSummary
			first, last string
		)
		if err := rows.Scan(&r.RunID, &first, &last, &r.Events, &r.LastPhase); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.FirstSeen, _ = time.Parse(time.RFC3339Nano, first)
		r.LastSeen, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, r)
	}
	return out, rows.Err()
}
