package mockserver

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaumer/clipq/internal/remote"
	"github.com/mbaumer/clipq/pkg/models"
)

// startServer runs the fake service and returns a directory client bound to
// it. Tests here double as a contract check between the remote clients and
// the wire shapes this server emits.
func startServer(t *testing.T) (*Server, *remote.HTTPDirectory, string) {
	t.Helper()
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	srv.SetBaseURL(ts.URL)
	return srv, remote.NewHTTPDirectory(ts.URL, ts.Client(), nil), ts.URL
}

func TestListJobs_FilterAndLimit(t *testing.T) {
	srv, dir, _ := startServer(t)
	now := time.Now().UTC()
	srv.Seed(models.Job{ID: "a", Status: models.StatusProcessing, CreatedAt: now.Add(-2 * time.Minute)})
	srv.Seed(models.Job{ID: "b", Status: models.StatusCompleted, CreatedAt: now.Add(-time.Minute)})
	srv.Seed(models.Job{ID: "c", Status: models.StatusProcessing, CreatedAt: now})

	got, fail := dir.List(context.Background(), 0, "")
	require.Nil(t, fail)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID, "most recent job first")

	got, fail = dir.List(context.Background(), 0, models.StatusProcessing)
	require.Nil(t, fail)
	require.Len(t, got, 2)

	got, fail = dir.List(context.Background(), 1, "")
	require.Nil(t, fail)
	assert.Len(t, got, 1)
}

func TestCreateJobFromURL(t *testing.T) {
	_, dir, _ := startServer(t)

	job, fail := dir.CreateFromURL(context.Background(), "https://x.test/v.mp4",
		models.Metadata{Title: "talk"}, &models.CaptureOptions{Live: true, MaxDurationSecs: 600})
	require.Nil(t, fail)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, models.SourceURL, job.Source)
	assert.Equal(t, "https://x.test/v.mp4", job.SourceURL)
	assert.Equal(t, "talk", job.Title)
}

func TestCreateJobFromURL_MissingURL(t *testing.T) {
	_, dir, _ := startServer(t)

	_, fail := dir.CreateFromURL(context.Background(), "", models.Metadata{}, nil)
	require.NotNil(t, fail)
	assert.Equal(t, remote.FailureHTTP, fail.Kind)
	assert.Equal(t, 400, fail.StatusCode)
	assert.Equal(t, "url is required", fail.Message)
}

func TestDeleteJob_Conflicts(t *testing.T) {
	srv, dir, _ := startServer(t)
	srv.Seed(models.Job{ID: "busy", Status: models.StatusProcessing})
	srv.Seed(models.Job{ID: "marked", Status: models.StatusCompleted, IsFlagged: true})
	srv.Seed(models.Job{ID: "done", Status: models.StatusCompleted})

	fail := dir.Delete(context.Background(), "busy")
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())
	assert.Equal(t, "conflict", fail.Code)

	fail = dir.Delete(context.Background(), "marked")
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())

	require.Nil(t, dir.Delete(context.Background(), "done"))

	got, listFail := dir.List(context.Background(), 0, "")
	require.Nil(t, listFail)
	assert.Len(t, got, 2)
}

func TestDeleteJob_NotFound(t *testing.T) {
	_, dir, _ := startServer(t)
	fail := dir.Delete(context.Background(), "nope")
	require.NotNil(t, fail)
	assert.Equal(t, 404, fail.StatusCode)
}

func TestFlagJob(t *testing.T) {
	srv, dir, _ := startServer(t)
	srv.Seed(models.Job{ID: "j1", Status: models.StatusCompleted})

	job, fail := dir.UpdateFlag(context.Background(), "j1", true, "needs review")
	require.Nil(t, fail)
	assert.True(t, job.IsFlagged)
	assert.Equal(t, "needs review", job.FlagNote)

	job, fail = dir.UpdateFlag(context.Background(), "j1", false, "")
	require.Nil(t, fail)
	assert.False(t, job.IsFlagged)
	assert.Empty(t, job.FlagNote)
}

func TestPauseResumeCancelLifecycle(t *testing.T) {
	srv, dir, _ := startServer(t)
	srv.Seed(models.Job{ID: "j1", Status: models.StatusProcessing, ProgressPct: 40})
	ctx := context.Background()

	job, fail := dir.Pause(ctx, "j1")
	require.Nil(t, fail)
	assert.True(t, job.PauseRequested, "pause is requested, not immediate")
	assert.Equal(t, models.StatusProcessing, job.Status)

	// The worker honors the request on its next tick.
	srv.Step(10)
	got, fail := dir.List(ctx, 0, models.StatusPaused)
	require.Nil(t, fail)
	require.Len(t, got, 1)
	assert.False(t, got[0].PauseRequested)

	job, fail = dir.Resume(ctx, "j1")
	require.Nil(t, fail)
	assert.Equal(t, models.StatusProcessing, job.Status)

	job, fail = dir.Cancel(ctx, "j1")
	require.Nil(t, fail)
	assert.Equal(t, models.StatusCancelled, job.Status)

	// Terminal jobs reject every further transition.
	_, fail = dir.Pause(ctx, "j1")
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())
	_, fail = dir.Resume(ctx, "j1")
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())
	_, fail = dir.Cancel(ctx, "j1")
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())
}

func TestStep_ProgressesAndCompletes(t *testing.T) {
	srv, dir, _ := startServer(t)
	srv.Seed(models.Job{ID: "j1", Status: models.StatusQueued})

	srv.Step(60) // queued -> processing
	srv.Step(60) // 60%
	srv.Step(60) // clamps to 100, completes

	got, fail := dir.List(context.Background(), 0, "")
	require.Nil(t, fail)
	require.Len(t, got, 1)
	assert.Equal(t, models.StatusCompleted, got[0].Status)
	assert.Equal(t, 100, got[0].ProgressPct)
}

func TestUploadLifecycle(t *testing.T) {
	_, dir, baseURL := startServer(t)
	transport := remote.NewHTTPUploadTransport(baseURL, nil, nil)
	ctx := context.Background()
	data := bytes.Repeat([]byte("v"), 2048)

	presign, fail := transport.RequestPresign(ctx, "clip.mp4", "video/mp4", int64(len(data)), models.Metadata{Title: "demo"})
	require.Nil(t, fail)
	assert.NotEmpty(t, presign.UploadID)
	assert.Contains(t, presign.URL, "/blob/"+presign.UploadID)

	// Finalizing before the blob lands is a conflict.
	_, fail = transport.Finalize(ctx, presign.UploadID)
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())

	require.Nil(t, transport.Transfer(ctx, presign, data, nil))

	job, fail := transport.Finalize(ctx, presign.UploadID)
	require.Nil(t, fail)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, models.SourceFile, job.Source)
	assert.Equal(t, "clip.mp4", job.Filename)
	assert.Equal(t, "demo", job.Title)

	// Double finalize is a conflict.
	_, fail = transport.Finalize(ctx, presign.UploadID)
	require.NotNil(t, fail)
	assert.True(t, fail.IsConflict())

	got, listFail := dir.List(ctx, 0, "")
	require.Nil(t, listFail)
	assert.Len(t, got, 1, "finalize creates the job")
}

func TestFinalize_UnknownUpload(t *testing.T) {
	_, _, baseURL := startServer(t)
	transport := remote.NewHTTPUploadTransport(baseURL, nil, nil)

	_, fail := transport.Finalize(context.Background(), "nope")
	require.NotNil(t, fail)
	assert.Equal(t, 404, fail.StatusCode)
}

func TestJobEvents_StreamUntilTerminal(t *testing.T) {
	srv, _, baseURL := startServer(t)
	srv.Seed(models.Job{ID: "j1", Status: models.StatusCompleted, ProgressPct: 100})

	watcher := remote.NewEventWatcher(baseURL, nil)
	events, fail := watcher.Watch(context.Background(), "j1")
	require.Nil(t, fail)

	var got []remote.JobEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, "j1", last.JobID)
	assert.Equal(t, models.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.ProgressPct)
}

func TestJobEvents_UnknownJob(t *testing.T) {
	_, _, baseURL := startServer(t)

	watcher := remote.NewEventWatcher(baseURL, nil)
	_, fail := watcher.Watch(context.Background(), "nope")
	require.NotNil(t, fail)
}
