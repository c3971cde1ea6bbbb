package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/mbaumer/clipq/pkg/models"
)

// ProgressFunc reports blob-transfer progress. sent is monotonically
// non-decreasing; total is the full byte length of the transfer.
type ProgressFunc func(sent, total int64)

// UploadTransport is the client for the three-phase presigned upload
// protocol: request a destination, push the bytes, finalize into a Job.
type UploadTransport interface {
	RequestPresign(ctx context.Context, filename, contentType string, byteLength int64, meta models.Metadata) (*models.PresignedUpload, *Failure)
	Transfer(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress ProgressFunc) *Failure
	Finalize(ctx context.Context, uploadID string) (*models.Job, *Failure)
}

// HTTPUploadTransport implements UploadTransport. Presign and finalize go
// to the service API; the transfer itself goes straight to the presigned
// blob-store URL.
type HTTPUploadTransport struct {
	apiClient
}

// NewHTTPUploadTransport creates an upload transport client. client may be
// nil, in which case a default with a 30s timeout is used.
func NewHTTPUploadTransport(baseURL string, client *http.Client, tokens TokenSource) *HTTPUploadTransport {
	return &HTTPUploadTransport{apiClient: newAPIClient(baseURL, client, tokens)}
}

type presignRequest struct {
	Filename       string            `json:"filename"`
	ContentType    string            `json:"content_type"`
	ContentLength  int64             `json:"content_length"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
}

func (u *HTTPUploadTransport) RequestPresign(ctx context.Context, filename, contentType string, byteLength int64, meta models.Metadata) (*models.PresignedUpload, *Failure) {
	req := presignRequest{
		Filename:       filename,
		ContentType:    contentType,
		ContentLength:  byteLength,
		Title:          meta.Title,
		Description:    meta.Description,
		Options:        meta.Options,
		IdempotencyKey: uuid.NewString(),
	}
	var presign models.PresignedUpload
	if f := u.do(ctx, http.MethodPost, "/v1/uploads", req, &presign); f != nil {
		return nil, f
	}
	return &presign, nil
}

// Transfer PUTs the bytes to the presigned destination with the headers the
// presign mandated. Progress is reported at 0 before the first byte and at
// the full size on completion, regardless of transport granularity.
func (u *HTTPUploadTransport) Transfer(ctx context.Context, presign *models.PresignedUpload, data []byte, onProgress ProgressFunc) *Failure {
	total := int64(len(data))
	report := func(sent int64) {
		if onProgress != nil {
			onProgress(sent, total)
		}
	}
	report(0)

	body := &progressReader{r: bytes.NewReader(data), total: total, report: report}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presign.URL, body)
	if err != nil {
		return GenericFailure(fmt.Sprintf("building transfer request: %v", err))
	}
	req.ContentLength = total
	for k, v := range presign.Headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return ClassifyResponse(resp.StatusCode, respBody)
	}

	report(total)
	return nil
}

func (u *HTTPUploadTransport) Finalize(ctx context.Context, uploadID string) (*models.Job, *Failure) {
	var job models.Job
	path := fmt.Sprintf("/v1/uploads/%s/complete", url.PathEscape(uploadID))
	if f := u.do(ctx, http.MethodPost, path, nil, &job); f != nil {
		return nil, f
	}
	return &job, nil
}

// progressReader reports cumulative bytes read as the HTTP transport
// consumes the request body.
type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent)
	}
	return n, err
}

// Compile-time check that HTTPUploadTransport implements UploadTransport.
var _ UploadTransport = (*HTTPUploadTransport)(nil)
