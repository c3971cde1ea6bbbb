package models

import "time"

// JobStatus is the server-authoritative lifecycle state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusPaused     JobStatus = "paused"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further status transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// SourceKind distinguishes how a job's input was submitted.
type SourceKind string

const (
	SourceURL  SourceKind = "url"
	SourceFile SourceKind = "file"
)

// Job is the client's read-mostly copy of a server-owned processing job.
// The client only ever overwrites it with a job the server itself returned;
// it never applies guessed values ahead of a response.
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	ProgressPct    int        `json:"progress_pct"`
	IsFlagged      bool       `json:"is_flagged"`
	FlagNote       string     `json:"flag_note,omitempty"`
	PauseRequested bool       `json:"pause_requested"`
	Source         SourceKind `json:"source"`
	SourceURL      string     `json:"source_url,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
