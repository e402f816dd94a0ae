// Package persistence stores the host's activity journal.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry kinds.
const (
	KindUpload      = "upload"
	KindDownload    = "download"
	KindServerStart = "server_start"
	KindSession     = "session"
)

// Entry is one recorded host action.
type Entry struct {
	ID        int64
	Session   string
	Kind      string
	Subject   string
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Journal records host actions.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Session(ctx context.Context, session string) ([]Entry, error)
}

// SQLiteJournal persists entries in a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenJournal opens/creates the database at path.
func OpenJournal(path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, errors.New("journal path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	journal := &SQLiteJournal{db: db}
	if err := journal.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

func (j *SQLiteJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		kind TEXT NOT NULL,
		subject TEXT,
		outcome TEXT NOT NULL,
		detail TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_session ON activity(session);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends an entry. A zero CreatedAt is stamped with the current time.
func (j *SQLiteJournal) Record(ctx context.Context, entry Entry) error {
	if entry.Kind == "" {
		return errors.New("entry kind required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO activity (session, kind, subject, outcome, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Session, entry.Kind, entry.Subject, entry.Outcome, entry.Detail, entry.CreatedAt)
	return err
}

// Recent returns up to limit entries, newest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session, kind, subject, outcome, detail, created_at FROM activity ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Session returns every entry of one host session, oldest first.
func (j *SQLiteJournal) Session(ctx context.Context, session string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session, kind, subject, outcome, detail, created_at FROM activity WHERE session = ? ORDER BY id ASC`, session)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Close releases the database.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			subject sql.NullString
			detail  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Kind, &subject, &e.Outcome, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Subject = subject.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
