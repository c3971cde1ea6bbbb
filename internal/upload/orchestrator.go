// Package upload drives the three-phase presigned upload protocol as an
// explicit state machine: request a presigned destination, transfer the
// bytes, finalize into a server-side Job.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/pkg/models"
)

// Phase is the orchestrator's state-machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequestingPresign
	PhaseUploading
	PhaseFinalizing
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequestingPresign:
		return "requesting_presign"
	case PhaseUploading:
		return "uploading"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// active reports whether an upload attempt currently owns the machine.
func (p Phase) active() bool {
	return p == PhaseRequestingPresign || p == PhaseUploading || p == PhaseFinalizing
}

// State is the externally visible orchestrator state. UploadID is empty
// until a presign succeeds; CanRetry tells the caller whether restarting
// from phase 1 is safe after a failure.
type State struct {
	Phase         Phase
	BytesUploaded int64
	TotalBytes    int64
	UploadID      string
	Failure       *remote.Failure
	CanRetry      bool
	Job           *models.Job
}

// FileSubmission is the input to a file upload attempt.
type FileSubmission struct {
	Filename string
	Data     []byte
	Metadata models.Metadata
}

// Journal records finalize failures so the upload can be completed later by
// upload id without re-transferring the blob. Implementations must tolerate
// repeat records for the same id.
type Journal interface {
	RecordStuckFinalize(ctx context.Context, uploadID, filename, message string) error
	ClearStuckFinalize(ctx context.Context, uploadID string) error
}

// Orchestrator owns one upload attempt at a time. All transitions are
// serialized; after Close every pending completion is discarded rather than
// applied. It never touches the job list: a created Job is returned to the
// caller, who folds it in via the normal refresh path.
type Orchestrator struct {
	transport remote.UploadTransport
	dir       remote.Directory
	journal   Journal

	mu     sync.Mutex
	state  State
	closed bool
	subs   map[int]func(State)
	nextID int
}

// NewOrchestrator creates an idle orchestrator. journal may be nil.
func NewOrchestrator(transport remote.UploadTransport, dir remote.Directory, journal Journal) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		dir:       dir,
		journal:   journal,
		state:     State{Phase: PhaseIdle},
		subs:      make(map[int]func(State)),
	}
}

// Subscribe registers fn to be called after every state change. The
// returned func unsubscribes.
func (o *Orchestrator) Subscribe(fn func(State)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs, id)
	}
}

// State returns a copy of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Close tears the orchestrator down. Any call still in flight resolves into
// a no-op instead of mutating dead state.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.subs = make(map[int]func(State))
}

// Reset returns a finished machine (succeeded or failed) to idle,
// discarding any upload id. Calls in other phases are ignored.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.closed || (o.state.Phase != PhaseFailed && o.state.Phase != PhaseSucceeded) {
		o.mu.Unlock()
		return
	}
	o.state = State{Phase: PhaseIdle}
	snap, subs := o.state, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, snap)
}

// Submit runs one file upload attempt through all three phases in strict
// sequence. The returned Failure mirrors State().Failure; the created Job
// mirrors State().Job.
func (o *Orchestrator) Submit(ctx context.Context, sub FileSubmission) (*models.Job, *remote.Failure) {
	total := int64(len(sub.Data))

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, remote.ValidationFailure("orchestrator is closed")
	}
	if o.state.Phase.active() {
		o.mu.Unlock()
		return nil, remote.ValidationFailure("an upload is already in progress")
	}
	if total == 0 {
		fail := remote.ValidationFailure("no file data provided")
		o.state = State{Phase: PhaseFailed, Failure: fail, CanRetry: true}
		snap, subs := o.state, o.subscribersLocked()
		o.mu.Unlock()
		notify(subs, snap)
		return nil, fail
	}
	contentType, ok := ContentTypeFor(sub.Filename)
	if !ok {
		fail := remote.ValidationFailure(fmt.Sprintf("unsupported file type: %s", sub.Filename))
		o.state = State{Phase: PhaseFailed, Failure: fail, CanRetry: true}
		snap, subs := o.state, o.subscribersLocked()
		o.mu.Unlock()
		notify(subs, snap)
		return nil, fail
	}
	o.state = State{Phase: PhaseRequestingPresign, TotalBytes: total}
	snap, subs := o.state, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, snap)

	// Phase 1: nothing is persisted server-side yet, so a failure here is
	// safely retryable from the top with no upload id.
	presign, fail := o.transport.RequestPresign(ctx, sub.Filename, contentType, total, sub.Metadata)
	if fail != nil {
		return nil, o.fail(fail, true, "")
	}

	if f := o.transition(func(s *State) {
		s.Phase = PhaseUploading
		s.UploadID = presign.UploadID
		s.BytesUploaded = 0
	}); f != nil {
		return nil, f
	}

	// Phase 2: a partially transferred blob is inert until finalized, so a
	// failure is retryable from phase 1 with a fresh presign. Finalize must
	// never run after a failure here.
	fail = o.transport.Transfer(ctx, presign, sub.Data, o.reportProgress)
	if fail != nil {
		return nil, o.fail(fail, true, presign.UploadID)
	}

	if f := o.transition(func(s *State) {
		s.Phase = PhaseFinalizing
		s.BytesUploaded = total
	}); f != nil {
		return nil, f
	}

	// Phase 3: the blob is fully transferred, so a blind retry from phase 1
	// would re-upload and risk a duplicate job. Not retryable; the upload id
	// is journaled for the explicit resume-finalize path.
	job, fail := o.transport.Finalize(ctx, presign.UploadID)
	if fail != nil {
		o.recordStuck(ctx, presign.UploadID, sub.Filename, fail.Message)
		return nil, o.fail(fail, false, presign.UploadID)
	}

	if f := o.transition(func(s *State) {
		s.Phase = PhaseSucceeded
		s.Job = job
	}); f != nil {
		return nil, f
	}
	return job, nil
}

// ResumeFinalize re-issues only the finalize call for an upload whose blob
// transfer already completed. It is the explicit operator recovery for
// phase-3 failures and never re-runs phases 1 or 2.
func (o *Orchestrator) ResumeFinalize(ctx context.Context, uploadID string) (*models.Job, *remote.Failure) {
	if uploadID == "" {
		return nil, remote.ValidationFailure("no upload id provided")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, remote.ValidationFailure("orchestrator is closed")
	}
	if o.state.Phase.active() {
		o.mu.Unlock()
		return nil, remote.ValidationFailure("an upload is already in progress")
	}
	o.state = State{Phase: PhaseFinalizing, UploadID: uploadID}
	snap, subs := o.state, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, snap)

	job, fail := o.transport.Finalize(ctx, uploadID)
	if fail != nil {
		return nil, o.fail(fail, false, uploadID)
	}

	if o.journal != nil {
		if err := o.journal.ClearStuckFinalize(ctx, uploadID); err != nil {
			slog.Warn("clearing journaled finalize", "upload_id", uploadID, "error", err)
		}
	}

	if f := o.transition(func(s *State) {
		s.Phase = PhaseSucceeded
		s.Job = job
	}); f != nil {
		return nil, f
	}
	return job, nil
}

// SubmitURL creates a job directly from a URL. It bypasses the upload state
// machine entirely: one directory call, no phase transitions.
func (o *Orchestrator) SubmitURL(ctx context.Context, sourceURL string, meta models.Metadata, capture *models.CaptureOptions) (*models.Job, *remote.Failure) {
	if sourceURL == "" {
		return nil, remote.ValidationFailure("no source url provided")
	}
	return o.dir.CreateFromURL(ctx, sourceURL, meta, capture)
}

// transition applies a state mutation unless the orchestrator was closed
// while the preceding call was in flight.
func (o *Orchestrator) transition(mutate func(*State)) *remote.Failure {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return remote.ValidationFailure("orchestrator is closed")
	}
	mutate(&o.state)
	snap, subs := o.state, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, snap)
	return nil
}

// fail moves the machine to failed with retry metadata and returns the
// failure for the caller. Discarded if the orchestrator was closed.
func (o *Orchestrator) fail(failure *remote.Failure, canRetry bool, uploadID string) *remote.Failure {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return failure
	}
	o.state.Phase = PhaseFailed
	o.state.Failure = failure
	o.state.CanRetry = canRetry
	o.state.UploadID = uploadID
	snap, subs := o.state, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, snap)
	return failure
}

func (o *Orchestrator) reportProgress(sent, total int64) {
	o.mu.Lock()
	if o.closed || o.state.Phase != PhaseUploading {
		o.mu.Unlock()
		return
	}
	o.state.BytesUploaded = sent
	o.state.TotalBytes = total
	snap, subs := o.state, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, snap)
}

func (o *Orchestrator) recordStuck(ctx context.Context, uploadID, filename, message string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordStuckFinalize(ctx, uploadID, filename, message); err != nil {
		slog.Warn("journaling stuck finalize", "upload_id", uploadID, "error", err)
	}
}

func (o *Orchestrator) subscribersLocked() []func(State) {
	subs := make([]func(State), 0, len(o.subs))
	for _, fn := range o.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(State), snap State) {
	for _, fn := range subs {
		fn(snap)
	}
}
