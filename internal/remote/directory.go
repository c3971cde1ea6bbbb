package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mbaumer/clipq/pkg/models"
)

// Directory is the client for the remote job store. Every method returns a
// value or exactly one classified Failure, never a raw error.
type Directory interface {
	List(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *Failure)
	Delete(ctx context.Context, jobID string) *Failure
	UpdateFlag(ctx context.Context, jobID string, flagged bool, note string) (*models.Job, *Failure)
	Pause(ctx context.Context, jobID string) (*models.Job, *Failure)
	Resume(ctx context.Context, jobID string) (*models.Job, *Failure)
	Cancel(ctx context.Context, jobID string) (*models.Job, *Failure)
	CreateFromURL(ctx context.Context, sourceURL string, meta models.Metadata, capture *models.CaptureOptions) (*models.Job, *Failure)
}

// HTTPDirectory implements Directory against the service's REST API.
type HTTPDirectory struct {
	apiClient
}

// NewHTTPDirectory creates a directory client. client may be nil, in which
// case a default with a 30s timeout is used.
func NewHTTPDirectory(baseURL string, client *http.Client, tokens TokenSource) *HTTPDirectory {
	return &HTTPDirectory{apiClient: newAPIClient(baseURL, client, tokens)}
}

func (d *HTTPDirectory) List(ctx context.Context, limit int, status models.JobStatus) ([]models.Job, *Failure) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if status != "" {
		params.Set("status", string(status))
	}
	path := "/v1/jobs"
	if q := params.Encode(); q != "" {
		path += "?" + q
	}

	var jobs []models.Job
	if f := d.do(ctx, http.MethodGet, path, nil, &jobs); f != nil {
		return nil, f
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	return jobs, nil
}

func (d *HTTPDirectory) Delete(ctx context.Context, jobID string) *Failure {
	return d.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(jobID), nil, nil)
}

type flagRequest struct {
	Flagged bool   `json:"flagged"`
	Note    string `json:"note,omitempty"`
}

func (d *HTTPDirectory) UpdateFlag(ctx context.Context, jobID string, flagged bool, note string) (*models.Job, *Failure) {
	var job models.Job
	path := fmt.Sprintf("/v1/jobs/%s/flag", url.PathEscape(jobID))
	if f := d.do(ctx, http.MethodPatch, path, flagRequest{Flagged: flagged, Note: note}, &job); f != nil {
		return nil, f
	}
	return &job, nil
}

func (d *HTTPDirectory) Pause(ctx context.Context, jobID string) (*models.Job, *Failure) {
	return d.transition(ctx, jobID, "pause")
}

func (d *HTTPDirectory) Resume(ctx context.Context, jobID string) (*models.Job, *Failure) {
	return d.transition(ctx, jobID, "resume")
}

func (d *HTTPDirectory) Cancel(ctx context.Context, jobID string) (*models.Job, *Failure) {
	return d.transition(ctx, jobID, "cancel")
}

func (d *HTTPDirectory) transition(ctx context.Context, jobID, verb string) (*models.Job, *Failure) {
	var job models.Job
	path := fmt.Sprintf("/v1/jobs/%s/%s", url.PathEscape(jobID), verb)
	if f := d.do(ctx, http.MethodPost, path, nil, &job); f != nil {
		return nil, f
	}
	return &job, nil
}

type createFromURLRequest struct {
	Source  models.SourceKind      `json:"source"`
	URL     string                 `json:"url"`
	Title   string                 `json:"title,omitempty"`
	Desc    string                 `json:"description,omitempty"`
	Options map[string]string      `json:"options,omitempty"`
	Capture *models.CaptureOptions `json:"capture,omitempty"`
}

func (d *HTTPDirectory) CreateFromURL(ctx context.Context, sourceURL string, meta models.Metadata, capture *models.CaptureOptions) (*models.Job, *Failure) {
	req := createFromURLRequest{
		Source:  models.SourceURL,
		URL:     sourceURL,
		Title:   meta.Title,
		Desc:    meta.Description,
		Options: meta.Options,
		Capture: capture,
	}
	var job models.Job
	if f := d.do(ctx, http.MethodPost, "/v1/jobs", req, &job); f != nil {
		return nil, f
	}
	return &job, nil
}

// Compile-time check that HTTPDirectory implements Directory.
var _ Directory = (*HTTPDirectory)(nil)
