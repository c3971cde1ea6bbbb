package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mbaumer/clipq/pkg/models"
)

// JobEvent is one live update pushed by the server while a job runs.
type JobEvent struct {
	JobID       string           `json:"job_id"`
	Status      models.JobStatus `json:"status"`
	ProgressPct int              `json:"progress_pct"`
}

// EventWatcher streams job events from the service over a websocket.
type EventWatcher struct {
	baseURL string
	tokens  TokenSource
	dialer  *websocket.Dialer
}

// NewEventWatcher creates a watcher for the given service base URL.
func NewEventWatcher(baseURL string, tokens TokenSource) *EventWatcher {
	return &EventWatcher{baseURL: baseURL, tokens: tokens, dialer: websocket.DefaultDialer}
}

// Watch subscribes to events for one job. The returned channel is closed
// when the job reaches a terminal status, the connection drops, or ctx is
// cancelled. The caller owns ctx; cancelling it tears the stream down.
func (w *EventWatcher) Watch(ctx context.Context, jobID string) (<-chan JobEvent, *Failure) {
	wsURL, err := w.eventsURL(jobID)
	if err != nil {
		return nil, GenericFailure(fmt.Sprintf("building events url: %v", err))
	}

	header := http.Header{}
	if w.tokens != nil {
		token, err := w.tokens.Token(ctx)
		if err != nil {
			return nil, GenericFailure(fmt.Sprintf("reading auth token: %v", err))
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := w.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, ClassifyResponse(resp.StatusCode, nil)
		}
		return nil, Classify(err)
	}

	events := make(chan JobEvent)
	go func() {
		defer close(events)
		defer conn.Close()

		// Unblock ReadJSON when the caller cancels.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		for {
			var ev JobEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Status.Terminal() {
				return
			}
		}
	}()

	return events, nil
}

func (w *EventWatcher) eventsURL(jobID string) (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/jobs/" + url.PathEscape(jobID) + "/events"
	return u.String(), nil
}
