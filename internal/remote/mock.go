package remote

import (
	"context"

	"github.com/mbaumer/clipq/pkg/models"
)

// MockDirectory satisfies Directory for testing. Unset funcs return empty
// successes.
type MockDirectory struct {
	ListFunc          func(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *Failure)
	DeleteFunc        func(ctx context.Context, jobID string) *Failure
	UpdateFlagFunc    func(ctx context.Context, jobID string, flagged bool, note string) (*models.Job, *Failure)
	PauseFunc         func(ctx context.Context, jobID string) (*models.Job, *Failure)
	ResumeFunc        func(ctx context.Context, jobID string) (*models.Job, *Failure)
	CancelFunc        func(ctx context.Context, jobID string) (*models.Job, *Failure)
	CreateFromURLFunc func(ctx context.Context, sourceURL string, meta models.Metadata, capture *models.CaptureOptions) (*models.Job, *Failure)
}

func (m *MockDirectory) List(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *Failure) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, status)
	}
	return []models.Job{}, nil
}

func (m *MockDirectory) Delete(ctx context.Context, jobID string) *Failure {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, jobID)
	}
	return nil
}

func (m *MockDirectory) UpdateFlag(ctx context.Context, jobID string, flagged bool, note string) (*models.Job, *Failure) {
	if m.UpdateFlagFunc != nil {
		return m.UpdateFlagFunc(ctx, jobID, flagged, note)
	}
	return &models.Job{ID: jobID, IsFlagged: flagged, FlagNote: note}, nil
}

func (m *MockDirectory) Pause(ctx context.Context, jobID string) (*models.Job, *Failure) {
	if m.PauseFunc != nil {
		return m.PauseFunc(ctx, jobID)
	}
	return &models.Job{ID: jobID, Status: models.StatusPaused}, nil
}

func (m *MockDirectory) Resume(ctx context.Context, jobID string) (*models.Job, *Failure) {
	if m.ResumeFunc != nil {
		return m.ResumeFunc(ctx, jobID)
	}
	return &models.Job{ID: jobID, Status: models.StatusProcessing}, nil
}

func (m *MockDirectory) Cancel(ctx context.Context, jobID string) (*models.Job, *Failure) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, jobID)
	}
	return &models.Job{ID: jobID, Status: models.StatusCancelled}, nil
}

func (m *MockDirectory) CreateFromURL(ctx context.Context, sourceURL string, meta models.Metadata, capture *models.CaptureOptions) (*models.Job, *Failure) {
	if m.CreateFromURLFunc != nil {
		return m.CreateFromURLFunc(ctx, sourceURL, meta, capture)
	}
	return &models.Job{ID: "job-url", Source: models.SourceURL, SourceURL: sourceURL}, nil
}

// MockUploadTransport satisfies UploadTransport for testing.
type MockUploadTransport struct {
	RequestPresignFunc func(ctx context.Context, filename, contentType string, byteLength int64, meta models.Metadata) (*models.PresignedUpload, *Failure)
	TransferFunc       func(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress ProgressFunc) *Failure
	FinalizeFunc       func(ctx context.Context, uploadID string) (*models.Job, *Failure)

	PresignCalls  int
	TransferCalls int
	FinalizeCalls int
}

func (m *MockUploadTransport) RequestPresign(ctx context.Context, filename, contentType string, byteLength int64, meta models.Metadata) (*models.PresignedUpload, *Failure) {
	m.PresignCalls++
	if m.RequestPresignFunc != nil {
		return m.RequestPresignFunc(ctx, filename, contentType, byteLength, meta)
	}
	return &models.PresignedUpload{
		UploadID:      "upload-1",
		URL:           "https://blobs.test/upload-1",
		Headers:       map[string]string{"Content-Type": contentType},
		ContentLength: byteLength,
	}, nil
}

func (m *MockUploadTransport) Transfer(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress ProgressFunc) *Failure {
	m.TransferCalls++
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, presign, data, onProgress)
	}
	if onProgress != nil {
		onProgress(0, int64(len(data)))
		onProgress(int64(len(data)), int64(len(data)))
	}
	return nil
}

func (m *MockUploadTransport) Finalize(ctx context.Context, uploadID string) (*models.Job, *Failure) {
	m.FinalizeCalls++
	if m.FinalizeFunc != nil {
		return m.FinalizeFunc(ctx, uploadID)
	}
	return &models.Job{ID: "job-1", Status: models.StatusQueued, Source: models.SourceFile}, nil
}

// Compile-time checks.
var (
	_ Directory       = (*MockDirectory)(nil)
	_ UploadTransport = (*MockUploadTransport)(nil)
)
