package upload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/pkg/models"
)

// recordingJournal satisfies Journal for tests.
type recordingJournal struct {
	mu       sync.Mutex
	recorded map[string]string
	cleared  []string
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{recorded: make(map[string]string)}
}

func (j *recordingJournal) RecordStuckFinalize(ctx context.Context, uploadID, filename, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recorded[uploadID] = message
	return nil
}

func (j *recordingJournal) ClearStuckFinalize(ctx context.Context, uploadID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleared = append(j.cleared, uploadID)
	return nil
}

func sub(filename string, size int) FileSubmission {
	return FileSubmission{
		Filename: filename,
		Data:     make([]byte, size),
		Metadata: models.Metadata{Title: "test clip"},
	}
}

// phaseRecorder subscribes and collects the phases seen, in order.
func phaseRecorder(o *Orchestrator) *[]Phase {
	var phases []Phase
	o.Subscribe(func(st State) {
		if len(phases) == 0 || phases[len(phases)-1] != st.Phase {
			phases = append(phases, st.Phase)
		}
	})
	return &phases
}

func TestSubmit_EmptyBytesFailsWithoutNetworkCalls(t *testing.T) {
	transport := &remote.MockUploadTransport{}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	_, fail := o.Submit(context.Background(), FileSubmission{Filename: "clip.mp4"})
	require.NotNil(t, fail)
	assert.Equal(t, remote.FailureValidation, fail.Kind)
	assert.Equal(t, "no file data provided", fail.Message)

	st := o.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Empty(t, st.UploadID)
	assert.Zero(t, transport.PresignCalls)
	assert.Zero(t, transport.TransferCalls)
	assert.Zero(t, transport.FinalizeCalls)
}

func TestSubmit_UnsupportedExtensionFailsWithoutNetworkCalls(t *testing.T) {
	transport := &remote.MockUploadTransport{}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	_, fail := o.Submit(context.Background(), sub("notes.txt", 10))
	require.NotNil(t, fail)
	assert.Equal(t, remote.FailureValidation, fail.Kind)
	assert.Equal(t, "unsupported file type: notes.txt", fail.Message)
	assert.Zero(t, transport.PresignCalls)
}

func TestSubmit_Phase1FailureIsRetryableWithNoUploadID(t *testing.T) {
	transport := &remote.MockUploadTransport{
		RequestPresignFunc: func(ctx context.Context, filename, contentType string, byteLength int64, meta models.Metadata) (*models.PresignedUpload, *remote.Failure) {
			return nil, remote.ClassifyResponse(500, nil)
		},
	}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	_, fail := o.Submit(context.Background(), sub("clip.mp4", 1000))
	require.NotNil(t, fail)

	st := o.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.True(t, st.CanRetry)
	assert.Empty(t, st.UploadID)
	assert.Zero(t, transport.TransferCalls, "transfer must not run after presign failure")
	assert.Zero(t, transport.FinalizeCalls, "finalize must not run after presign failure")
}

func TestSubmit_Phase2FailureIsRetryableAndNeverFinalizes(t *testing.T) {
	transport := &remote.MockUploadTransport{
		TransferFunc: func(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress remote.ProgressFunc) *remote.Failure {
			return remote.NetworkFailure(context.DeadlineExceeded)
		},
	}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	_, fail := o.Submit(context.Background(), sub("clip.mp4", 1000))
	require.NotNil(t, fail)

	st := o.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.True(t, st.CanRetry)
	assert.Equal(t, "upload-1", st.UploadID)
	assert.Zero(t, transport.FinalizeCalls, "finalize must never be attempted after a transfer failure")
}

func TestSubmit_Phase3FailureIsNotRetryableAndJournaled(t *testing.T) {
	transport := &remote.MockUploadTransport{
		FinalizeFunc: func(ctx context.Context, uploadID string) (*models.Job, *remote.Failure) {
			return nil, remote.ClassifyResponse(500, nil)
		},
	}
	jnl := newRecordingJournal()
	o := NewOrchestrator(transport, &remote.MockDirectory{}, jnl)

	_, fail := o.Submit(context.Background(), sub("clip.mp4", 1000))
	require.NotNil(t, fail)

	st := o.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.False(t, st.CanRetry, "a finalize failure must not be presented as retryable")
	assert.Equal(t, "upload-1", st.UploadID)
	assert.Contains(t, jnl.recorded, "upload-1")
}

func TestSubmit_SuccessPassesThroughPhasesInOrder(t *testing.T) {
	transport := &remote.MockUploadTransport{}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)
	phases := phaseRecorder(o)

	job, fail := o.Submit(context.Background(), sub("clip.mp4", 1000))
	require.Nil(t, fail)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)

	assert.Equal(t, []Phase{PhaseRequestingPresign, PhaseUploading, PhaseFinalizing, PhaseSucceeded}, *phases)
	assert.Equal(t, 1, transport.PresignCalls)
	assert.Equal(t, 1, transport.TransferCalls)
	assert.Equal(t, 1, transport.FinalizeCalls)

	st := o.State()
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.Equal(t, st.TotalBytes, st.BytesUploaded)
}

func TestSubmit_ProgressReachesZeroAndTotal(t *testing.T) {
	transport := &remote.MockUploadTransport{}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	var uploads []int64
	o.Subscribe(func(st State) {
		if st.Phase == PhaseUploading {
			uploads = append(uploads, st.BytesUploaded)
		}
	})

	_, fail := o.Submit(context.Background(), sub("clip.mp4", 1000))
	require.Nil(t, fail)
	require.NotEmpty(t, uploads)
	assert.Equal(t, int64(0), uploads[0])
	assert.Equal(t, int64(1000), uploads[len(uploads)-1])
}

func TestSubmit_RejectsConcurrentAttempt(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	transport := &remote.MockUploadTransport{
		TransferFunc: func(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress remote.ProgressFunc) *remote.Failure {
			close(started)
			<-release
			return nil
		},
	}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Submit(context.Background(), sub("clip.mp4", 100))
	}()
	<-started

	_, fail := o.Submit(context.Background(), sub("other.mp4", 100))
	require.NotNil(t, fail)
	assert.Equal(t, remote.FailureValidation, fail.Kind)
	assert.Equal(t, "an upload is already in progress", fail.Message)
	assert.Equal(t, 1, transport.PresignCalls, "rejected attempt must not touch the transport")

	close(release)
	<-done
	assert.Equal(t, PhaseSucceeded, o.State().Phase)
}

func TestClose_DiscardsCompletionsRacingTeardown(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	transport := &remote.MockUploadTransport{
		TransferFunc: func(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress remote.ProgressFunc) *remote.Failure {
			close(started)
			<-release
			return nil
		},
	}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Submit(context.Background(), sub("clip.mp4", 100))
	}()
	<-started

	o.Close()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submit did not return")
	}

	assert.Zero(t, transport.FinalizeCalls, "no phase may start after teardown")
	assert.Equal(t, PhaseUploading, o.State().Phase, "state must not move after teardown")
}

func TestReset_ReturnsFinishedMachineToIdle(t *testing.T) {
	transport := &remote.MockUploadTransport{}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	_, fail := o.Submit(context.Background(), sub("clip.mp4", 10))
	require.Nil(t, fail)
	require.Equal(t, PhaseSucceeded, o.State().Phase)

	o.Reset()
	st := o.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Empty(t, st.UploadID)
	assert.Nil(t, st.Job)
}

func TestReset_IgnoredWhileActive(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	transport := &remote.MockUploadTransport{
		TransferFunc: func(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress remote.ProgressFunc) *remote.Failure {
			close(started)
			<-release
			return nil
		},
	}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.Submit(context.Background(), sub("clip.mp4", 100))
	}()
	<-started

	o.Reset()
	assert.Equal(t, PhaseUploading, o.State().Phase)

	close(release)
	<-done
}

func TestResumeFinalize_SuccessClearsJournal(t *testing.T) {
	transport := &remote.MockUploadTransport{}
	jnl := newRecordingJournal()
	o := NewOrchestrator(transport, &remote.MockDirectory{}, jnl)

	job, fail := o.ResumeFinalize(context.Background(), "upload-9")
	require.Nil(t, fail)
	require.NotNil(t, job)

	assert.Equal(t, 1, transport.FinalizeCalls)
	assert.Zero(t, transport.PresignCalls, "resume must not re-run phase 1")
	assert.Zero(t, transport.TransferCalls, "resume must not re-run phase 2")
	assert.Equal(t, []string{"upload-9"}, jnl.cleared)
	assert.Equal(t, PhaseSucceeded, o.State().Phase)
}

func TestResumeFinalize_FailureStaysNonRetryable(t *testing.T) {
	transport := &remote.MockUploadTransport{
		FinalizeFunc: func(ctx context.Context, uploadID string) (*models.Job, *remote.Failure) {
			return nil, remote.ClassifyResponse(503, nil)
		},
	}
	o := NewOrchestrator(transport, &remote.MockDirectory{}, nil)

	_, fail := o.ResumeFinalize(context.Background(), "upload-9")
	require.NotNil(t, fail)

	st := o.State()
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.False(t, st.CanRetry)
	assert.Equal(t, "upload-9", st.UploadID)
}

func TestResumeFinalize_RequiresUploadID(t *testing.T) {
	o := NewOrchestrator(&remote.MockUploadTransport{}, &remote.MockDirectory{}, nil)
	_, fail := o.ResumeFinalize(context.Background(), "")
	require.NotNil(t, fail)
	assert.Equal(t, remote.FailureValidation, fail.Kind)
}

func TestSubmitURL_SingleCallNoPhaseTransitions(t *testing.T) {
	var gotURL string
	var gotMeta models.Metadata
	var calls int
	dir := &remote.MockDirectory{
		CreateFromURLFunc: func(ctx context.Context, sourceURL string, meta models.Metadata, capture *models.CaptureOptions) (*models.Job, *remote.Failure) {
			calls++
			gotURL, gotMeta = sourceURL, meta
			return &models.Job{ID: "j-url", Source: models.SourceURL, SourceURL: sourceURL}, nil
		},
	}
	o := NewOrchestrator(&remote.MockUploadTransport{}, dir, nil)
	phases := phaseRecorder(o)

	job, fail := o.SubmitURL(context.Background(), "https://x.test/v.mp4", models.Metadata{}, nil)
	require.Nil(t, fail)
	assert.Equal(t, "j-url", job.ID)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "https://x.test/v.mp4", gotURL)
	assert.Equal(t, models.Metadata{}, gotMeta)

	assert.Empty(t, *phases, "URL submission bypasses the state machine")
	assert.Equal(t, PhaseIdle, o.State().Phase)
}

func TestSubmitURL_EmptyURLIsValidation(t *testing.T) {
	o := NewOrchestrator(&remote.MockUploadTransport{}, &remote.MockDirectory{}, nil)
	_, fail := o.SubmitURL(context.Background(), "", models.Metadata{}, nil)
	require.NotNil(t, fail)
	assert.Equal(t, remote.FailureValidation, fail.Kind)
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseIdle:              "idle",
		PhaseRequestingPresign: "requesting_presign",
		PhaseUploading:         "uploading",
		PhaseFinalizing:        "finalizing",
		PhaseSucceeded:         "succeeded",
		PhaseFailed:            "failed",
	}
	for phase, want := range tests {
		assert.Equal(t, want, phase.String())
	}
}
