// Package journal keeps a local history of formatter runs for monitoring.
// The formatter itself never reads it; the server stays the only source of
// truth for calendar state.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Journal struct {
	db *sql.DB
}

// Entry is one recorded run.
type Entry struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Matched    int
	Updated    int
	AlreadyOK  int
	FailedPut  int
	DryRun     bool
}

func Open(dbPath string) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		checked INTEGER NOT NULL,
		matched INTEGER NOT NULL,
		updated INTEGER NOT NULL,
		already_ok INTEGER NOT NULL,
		failed_put INTEGER NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}

// Record stores one completed run and fills in the entry's ID.
func (j *Journal) Record(e *Entry) error {
	res, err := j.db.Exec(
		`INSERT INTO runs (started_at, finished_at, checked, matched, updated, already_ok, failed_put, dry_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StartedAt, e.FinishedAt, e.Checked, e.Matched, e.Updated, e.AlreadyOK, e.FailedPut, e.DryRun,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	e.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

// Recent returns the latest n runs, newest first.
func (j *Journal) Recent(n int) ([]*Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, started_at, finished_at, checked, matched, updated, already_ok, failed_put, dry_run
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.FinishedAt,
			&e.Checked, &e.Matched, &e.Updated, &e.AlreadyOK, &e.FailedPut, &e.DryRun); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
