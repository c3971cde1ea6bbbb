// Package journal persists local upload bookkeeping in SQLite: finalize
// failures awaiting the resume-finalize path, and a history of submitted
// jobs.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mbaumer/clipq/internal/upload"
)

const schema = `
CREATE TABLE IF NOT EXISTS stuck_finalizes (
    upload_id  TEXT PRIMARY KEY,
    filename   TEXT NOT NULL,
    message    TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS submissions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL,
    source     TEXT NOT NULL,
    ref        TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at);
`

// StuckFinalize is an upload whose blob transfer completed but whose
// finalize call failed; it can be completed later by upload id.
type StuckFinalize struct {
	UploadID  string
	Filename  string
	Message   string
	CreatedAt time.Time
}

// Submission is one row of local submission history.
type Submission struct {
	JobID     string
	Source    string
	Ref       string
	CreatedAt time.Time
}

// Journal is a SQLite-backed store. Safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path, initializing the
// schema if needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordStuckFinalize upserts a finalize failure; repeated failures for the
// same upload id refresh the message.
func (j *Journal) RecordStuckFinalize(ctx context.Context, uploadID, filename, message string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO stuck_finalizes (upload_id, filename, message, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(upload_id) DO UPDATE SET message = excluded.message`,
		uploadID, filename, message, time.Now().UTC(),
	)
	return err
}

// ClearStuckFinalize removes the entry after a successful resume-finalize.
func (j *Journal) ClearStuckFinalize(ctx context.Context, uploadID string) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM stuck_finalizes WHERE upload_id = ?`, uploadID)
	return err
}

// ListStuckFinalizes returns all pending finalize failures, oldest first.
func (j *Journal) ListStuckFinalizes(ctx context.Context) ([]StuckFinalize, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT upload_id, filename, message, created_at FROM stuck_finalizes ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StuckFinalize
	for rows.Next() {
		var s StuckFinalize
		if err := rows.Scan(&s.UploadID, &s.Filename, &s.Message, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordSubmission appends a job the client created (by URL or upload) to
// the local history.
func (j *Journal) RecordSubmission(ctx context.Context, jobID, source, ref string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO submissions (job_id, source, ref, created_at) VALUES (?, ?, ?, ?)`,
		jobID, source, ref, time.Now().UTC(),
	)
	return err
}

// RecentSubmissions returns up to limit history rows, newest first.
func (j *Journal) RecentSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT job_id, source, ref, created_at FROM submissions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.JobID, &s.Source, &s.Ref, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Compile-time check that Journal satisfies the orchestrator's needs.
var _ upload.Journal = (*Journal)(nil)
