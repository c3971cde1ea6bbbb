package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/pkg/models"
)

// ActionKind is a job-control command tracked while its server call is
// outstanding.
type ActionKind string

const (
	ActionDelete ActionKind = "delete"
	ActionFlag   ActionKind = "flag"
	ActionPause  ActionKind = "pause"
	ActionResume ActionKind = "resume"
	ActionCancel ActionKind = "cancel"
)

// Snapshot is a point-in-time copy of the tracker state handed to
// subscribers and callers. Mutating it does not affect the tracker.
type Snapshot struct {
	Jobs     []models.Job
	Filtered []models.Job
	Query    string
	InFlight map[string]ActionKind

	// ActionError and ActionSuccess are one-shot notifications; consume
	// them with ConsumeNotices.
	ActionError   string
	ActionSuccess string
}

// Busy reports whether jobID has an outstanding action.
func (s Snapshot) Busy(jobID string) bool {
	_, ok := s.InFlight[jobID]
	return ok
}

// Tracker materializes the server's job list and serializes job-control
// commands per entity: at most one action is in flight per job at any time,
// enforced by insert-or-reject on the in-flight map. The list is only ever
// mutated with server-returned results, never with guessed values.
type Tracker struct {
	dir remote.Directory

	mu            sync.Mutex
	jobs          []models.Job
	filtered      []models.Job
	query         string
	inFlight      map[string]ActionKind
	actionError   string
	actionSuccess string
	closed        bool

	subs   map[int]func(Snapshot)
	nextID int
}

// NewTracker creates a tracker over the given directory client with an
// empty list.
func NewTracker(dir remote.Directory) *Tracker {
	return &Tracker{
		dir:      dir,
		jobs:     []models.Job{},
		filtered: []models.Job{},
		inFlight: make(map[string]ActionKind),
		subs:     make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to be called with a snapshot after every state
// change. The returned func unsubscribes.
func (t *Tracker) Subscribe(fn func(Snapshot)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Close tears the tracker down. Completions of calls still in flight are
// discarded instead of being applied to dead state.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[int]func(Snapshot))
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// ConsumeNotices returns and clears the one-shot action notifications.
func (t *Tracker) ConsumeNotices() (errMsg, successMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	errMsg, successMsg = t.actionError, t.actionSuccess
	t.actionError, t.actionSuccess = "", ""
	return errMsg, successMsg
}

// SetQuery updates the search query and re-derives the filtered projection.
func (t *Tracker) SetQuery(query string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.query = query
	t.filtered = Filter(t.jobs, t.query)
	snap, subs := t.snapshotLocked(), t.subscribersLocked()
	t.mu.Unlock()
	notify(subs, snap)
}

// Refresh replaces the list wholesale from the server and re-applies the
// current query. In-flight entries for jobs absent from the new list are
// stale (no terminal transition will ever arrive for them) and are dropped.
func (t *Tracker) Refresh(ctx context.Context, limit int, status models.JobStatus) *remote.Failure {
	fresh, fail := t.dir.List(ctx, limit, status)
	if fail != nil {
		return fail
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.jobs = fresh
	t.filtered = Filter(t.jobs, t.query)

	present := make(map[string]struct{}, len(fresh))
	for _, job := range fresh {
		present[job.ID] = struct{}{}
	}
	for id, kind := range t.inFlight {
		if _, ok := present[id]; !ok {
			slog.Warn("dropping stale in-flight action", "job_id", id, "action", kind)
			delete(t.inFlight, id)
		}
	}

	snap, subs := t.snapshotLocked(), t.subscribersLocked()
	t.mu.Unlock()
	notify(subs, snap)
	return nil
}

// Delete removes the job server-side, then from both sequences.
func (t *Tracker) Delete(ctx context.Context, jobID string) *remote.Failure {
	if fail := t.begin(jobID, ActionDelete); fail != nil {
		return fail
	}
	fail := t.dir.Delete(ctx, jobID)
	if fail != nil {
		t.fail(jobID, ActionDelete, fail)
		return fail
	}
	t.succeed(jobID, "Job deleted", func() {
		t.jobs = removeJob(t.jobs, jobID)
		t.filtered = Filter(t.jobs, t.query)
	})
	return nil
}

// SetFlag sets or clears the flag on a job, with an optional note.
func (t *Tracker) SetFlag(ctx context.Context, jobID string, flagged bool, note string) *remote.Failure {
	success := "Job flagged"
	if !flagged {
		success = "Flag removed"
	}
	return t.mutate(jobID, ActionFlag, success, func() (*models.Job, *remote.Failure) {
		return t.dir.UpdateFlag(ctx, jobID, flagged, note)
	})
}

// Pause requests that the server pause the job.
func (t *Tracker) Pause(ctx context.Context, jobID string) *remote.Failure {
	return t.mutate(jobID, ActionPause, "Pause requested", func() (*models.Job, *remote.Failure) {
		return t.dir.Pause(ctx, jobID)
	})
}

// Resume requests that the server resume a paused job.
func (t *Tracker) Resume(ctx context.Context, jobID string) *remote.Failure {
	return t.mutate(jobID, ActionResume, "Job resumed", func() (*models.Job, *remote.Failure) {
		return t.dir.Resume(ctx, jobID)
	})
}

// Cancel requests that the server cancel the job.
func (t *Tracker) Cancel(ctx context.Context, jobID string) *remote.Failure {
	return t.mutate(jobID, ActionCancel, "Job cancelled", func() (*models.Job, *remote.Failure) {
		return t.dir.Cancel(ctx, jobID)
	})
}

// mutate runs the common lifecycle for actions whose success replaces the
// job with the server-returned copy.
func (t *Tracker) mutate(jobID string, kind ActionKind, success string, call func() (*models.Job, *remote.Failure)) *remote.Failure {
	if fail := t.begin(jobID, kind); fail != nil {
		return fail
	}
	updated, fail := call()
	if fail != nil {
		t.fail(jobID, kind, fail)
		return fail
	}
	t.succeed(jobID, success, func() {
		t.jobs = replaceJob(t.jobs, *updated)
		t.filtered = Filter(t.jobs, t.query)
	})
	return nil
}

// begin marks jobID in flight, rejecting the command outright if another
// action already holds the entry.
func (t *Tracker) begin(jobID string, kind ActionKind) *remote.Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return remote.ValidationFailure("tracker is closed")
	}
	if existing, ok := t.inFlight[jobID]; ok {
		return remote.ValidationFailure("another action (" + string(existing) + ") is already in progress for this job")
	}
	t.inFlight[jobID] = kind
	t.actionError = ""
	t.actionSuccess = ""
	return nil
}

// fail clears the in-flight entry and surfaces the failure, substituting
// action-specific copy for 409 conflicts. The job list is left untouched;
// nothing was applied speculatively.
func (t *Tracker) fail(jobID string, kind ActionKind, failure *remote.Failure) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.inFlight, jobID)
	if failure.IsConflict() {
		t.actionError = conflictMessage(kind)
	} else {
		t.actionError = failure.Message
	}
	snap, subs := t.snapshotLocked(), t.subscribersLocked()
	t.mu.Unlock()
	notify(subs, snap)
}

// succeed clears the in-flight entry and applies the server-confirmed
// result to both sequences in the same step.
func (t *Tracker) succeed(jobID, message string, apply func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.inFlight, jobID)
	apply()
	t.actionSuccess = message
	snap, subs := t.snapshotLocked(), t.subscribersLocked()
	t.mu.Unlock()
	notify(subs, snap)
}

// conflictMessage is the human-readable copy shown when the server rejects
// a command for the job's current state.
func conflictMessage(kind ActionKind) string {
	switch kind {
	case ActionDelete:
		return "Cannot delete while job is processing or flagged"
	case ActionPause, ActionResume:
		return "Cannot change state in the current job status"
	case ActionFlag:
		return "Cannot flag this job right now"
	case ActionCancel:
		return "Cannot cancel a job in this status"
	default:
		return "The server rejected this action"
	}
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		Jobs:          make([]models.Job, len(t.jobs)),
		Filtered:      make([]models.Job, len(t.filtered)),
		Query:         t.query,
		InFlight:      make(map[string]ActionKind, len(t.inFlight)),
		ActionError:   t.actionError,
		ActionSuccess: t.actionSuccess,
	}
	copy(snap.Jobs, t.jobs)
	copy(snap.Filtered, t.filtered)
	for id, kind := range t.inFlight {
		snap.InFlight[id] = kind
	}
	return snap
}

func (t *Tracker) subscribersLocked() []func(Snapshot) {
	subs := make([]func(Snapshot), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}

func removeJob(jobs []models.Job, jobID string) []models.Job {
	out := make([]models.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.ID != jobID {
			out = append(out, job)
		}
	}
	return out
}

func replaceJob(jobs []models.Job, updated models.Job) []models.Job {
	out := make([]models.Job, len(jobs))
	copy(out, jobs)
	for i := range out {
		if out[i].ID == updated.ID {
			out[i] = updated
		}
	}
	return out
}
