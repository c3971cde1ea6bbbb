// Package remote holds the clients for the video-processing service: the
// job directory, the presigned-upload transport, and the job-event
// watcher, plus the failure taxonomy they all classify into. Clients never
// leak raw errors past this package boundary.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenSource supplies the bearer token attached to every service call.
// Implemented by the session; the clients never persist tokens themselves.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// envelope is the service's success wrapper: {"data": ...}.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// apiClient is the shared request plumbing for HTTPDirectory and
// HTTPUploadTransport.
type apiClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

func newAPIClient(baseURL string, client *http.Client, tokens TokenSource) apiClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return apiClient{baseURL: baseURL, client: client, tokens: tokens}
}

// do issues one API request and decodes the data envelope into out (which
// may be nil for calls without a body, e.g. DELETE). All failures come back
// classified.
func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) *Failure {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return GenericFailure(fmt.Sprintf("encoding request: %v", err))
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return GenericFailure(fmt.Sprintf("building request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if f := c.authorize(ctx, req); f != nil {
		return f
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ClassifyResponse(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return GenericFailure(fmt.Sprintf("decoding response: %v", err))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return GenericFailure(fmt.Sprintf("decoding response: %v", err))
	}
	return nil
}

func (c *apiClient) authorize(ctx context.Context, req *http.Request) *Failure {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return GenericFailure(fmt.Sprintf("reading auth token: %v", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
