// Package storage keeps a local SQLite journal of the attempts one worker
// machine made. The journal is never shared between machines; coordination
// happens only through the job and library directories.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when an attempt id is unknown.
var ErrNotFound = errors.New("storage: attempt not found")

// Attempt is one worker's pass over one job.
type Attempt struct {
	ID        string
	Job       string
	Worker    int64
	Session   string
	State     string
	Status    string
	Parent    string
	Message   string
	Trace     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Storage persists attempts.
type Storage interface {
	Init(path string) error
	Close() error
	SaveAttempt(a *Attempt) error
	ListAttempts(job string, limit int) ([]*Attempt, error)
	ListByState(state string) ([]*Attempt, error)
	CountByState() (map[string]int, error)
}

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage() *SQLiteStorage { return &SQLiteStorage{} }

func (s *SQLiteStorage) Init(path string) error {
	if path == "" {
		path = "calcrunner.db"
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	s.db = db
	return s.migrate()
}

func (s *SQLiteStorage) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		worker INTEGER,
		session TEXT,
		state TEXT,
		status TEXT,
		parent TEXT,
		message TEXT,
		trace TEXT,
		started_at DATETIME,
		ended_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS attempts_job ON attempts(job);
	CREATE INDEX IF NOT EXISTS attempts_state ON attempts(state);
	`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStorage) SaveAttempt(a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.StartedAt.IsZero() {
		a.StartedAt = now
	}
	if a.EndedAt.IsZero() {
		a.EndedAt = now
	}
	_, err := s.db.Exec(`INSERT INTO attempts(id,job,worker,session,state,status,parent,message,trace,started_at,ended_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET state=excluded.state, status=excluded.status, parent=excluded.parent, message=excluded.message, trace=excluded.trace, ended_at=excluded.ended_at`,
		a.ID, a.Job, a.Worker, a.Session, a.State, a.Status, a.Parent, a.Message, a.Trace, a.StartedAt, a.EndedAt)
	if err != nil {
		return fmt.Errorf("storage: save attempt on %s: %w", a.Job, err)
	}
	return nil
}

const attemptColumns = `id,job,worker,session,state,status,parent,message,trace,started_at,ended_at`

// ListAttempts returns the newest attempts first. An empty job lists every
// job; limit <= 0 means no limit.
func (s *SQLiteStorage) ListAttempts(job string, limit int) ([]*Attempt, error) {
	q := `SELECT ` + attemptColumns + ` FROM attempts`
	var args []any
	if job != "" {
		q += ` WHERE job = ?`
		args = append(args, job)
	}
	q += ` ORDER BY ended_at DESC, started_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(q, args...)
}

func (s *SQLiteStorage) ListByState(state string) ([]*Attempt, error) {
	return s.query(`SELECT `+attemptColumns+` FROM attempts WHERE state = ? ORDER BY ended_at`, state)
}

func (s *SQLiteStorage) GetAttemptByID(id string) (*Attempt, error) {
	out, err := s.query(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return out[0], nil
}

func (s *SQLiteStorage) CountByState() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM attempts GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("storage: count attempts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) query(q string, args ...any) ([]*Attempt, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query attempts: %w", err)
	}
	defer rows.Close()
	var out []*Attempt
	for rows.Next() {
		a := &Attempt{}
		var startedAt, endedAt sql.NullTime
		var session, status, parent, message, trace sql.NullString
		if err := rows.Scan(&a.ID, &a.Job, &a.Worker, &session, &a.State, &status, &parent, &message, &trace, &startedAt, &endedAt); err != nil {
			return nil, err
		}
		a.Session = session.String
		a.Status = status.String
		a.Parent = parent.String
		a.Message = message.String
		a.Trace = trace.String
		if startedAt.Valid {
			a.StartedAt = startedAt.Time
		}
		if endedAt.Valid {
			a.EndedAt = endedAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
