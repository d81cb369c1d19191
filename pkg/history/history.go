// Package history keeps one row per merge run in a local SQLite file.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Status of a run.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run represents a row from the runs table.
type Run struct {
	ID         string   `json:"id"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt *int64   `json:"finished_at,omitempty"`
	Google     string   `json:"google_file"`
	MSSQL      []string `json:"mssql_files"`
	Output     string   `json:"output_file,omitempty"`
	DryRun     bool     `json:"dry_run"`
	Input      int      `json:"input"`
	Kept       int      `json:"kept"`
	Merged     int      `json:"merged"`
	Skipped    int      `json:"skipped"`
	Malformed  int      `json:"malformed"`
	Records    int      `json:"records"`
	Status     string   `json:"status"`
	Error      *string  `json:"error,omitempty"`
}

// Counts are the outcome totals stored when a run finishes.
type Counts struct {
	Input, Kept, Merged, Skipped, Malformed, Records int
}

// DB manages the runs SQLite table.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the runs
// table exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		started_at   INTEGER NOT NULL,
		finished_at  INTEGER,
		google_file  TEXT NOT NULL,
		mssql_files  TEXT NOT NULL DEFAULT '[]',
		output_file  TEXT NOT NULL DEFAULT '',
		dry_run      INTEGER NOT NULL DEFAULT 0,
		input        INTEGER NOT NULL DEFAULT 0,
		kept         INTEGER NOT NULL DEFAULT 0,
		merged       INTEGER NOT NULL DEFAULT 0,
		skipped      INTEGER NOT NULL DEFAULT 0,
		malformed    INTEGER NOT NULL DEFAULT 0,
		records      INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL,
		error        TEXT
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the SQLite connection.
func (h *DB) Close() error {
	return h.db.Close()
}

// Begin records a run as running.
func (h *DB) Begin(id string, started time.Time, google string, mssql []string, dryRun bool) error {
	files, err := json.Marshal(mssqlList(mssql))
	if err != nil {
		return fmt.Errorf("encode mssql files: %w", err)
	}
	_, err = h.db.Exec(`INSERT INTO runs (id, started_at, google_file, mssql_files, dry_run, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, started.Unix(), google, string(files), dryRun, StatusRunning)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// Finish stores the outcome of a run. A non-nil runErr marks it failed.
func (h *DB) Finish(id, output string, c Counts, runErr error) error {
	status := StatusOK
	var errPtr *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errPtr = &msg
	}
	res, err := h.db.Exec(`UPDATE runs SET finished_at = ?, output_file = ?,
		input = ?, kept = ?, merged = ?, skipped = ?, malformed = ?, records = ?,
		status = ?, error = ? WHERE id = ?`,
		time.Now().Unix(), output,
		c.Input, c.Kept, c.Merged, c.Skipped, c.Malformed, c.Records,
		status, errPtr, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

const selectRun = `SELECT id, started_at, finished_at, google_file, mssql_files, output_file,
	dry_run, input, kept, merged, skipped, malformed, records, status, error FROM runs`

// Get returns one run by id.
func (h *DB) Get(id string) (*Run, error) {
	r, err := scanRun(h.db.QueryRow(selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// List returns the most recent runs first. limit <= 0 means all.
func (h *DB) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.Query(selectRun+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var files string
	if err := s.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Google, &files, &r.Output,
		&r.DryRun, &r.Input, &r.Kept, &r.Merged, &r.Skipped, &r.Malformed, &r.Records,
		&r.Status, &r.Error); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &r.MSSQL); err != nil {
		return nil, fmt.Errorf("decode mssql files of %s: %w", r.ID, err)
	}
	return &r, nil
}

func mssqlList(files []string) []string {
	if files == nil {
		return []string{}
	}
	return files
}
