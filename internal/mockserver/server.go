// Package mockserver is an in-memory fake of the remote video-processing
// service, used for local development and demos. It speaks the same wire
// contract the real service does: the {"data": ...} success envelope, the
// {"error": {"code", "message"}} error envelope, presigned uploads against
// its own blob endpoint, and job events over a websocket.
package mockserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mbaumer/clipq/pkg/models"
)

type uploadRecord struct {
	presign   models.PresignedUpload
	filename  string
	meta      models.Metadata
	received  int64
	finalized bool
}

// Server is the fake service. Safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	jobs    map[string]*models.Job
	uploads map[string]*uploadRecord

	// baseURL is where presigned blob URLs point; set via SetBaseURL once
	// the listener address is known.
	baseURL  string
	upgrader websocket.Upgrader
}

// New creates an empty mock server.
func New() *Server {
	return &Server{
		jobs:    make(map[string]*models.Job),
		uploads: make(map[string]*uploadRecord),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetBaseURL sets the externally reachable base URL used in presigns.
func (s *Server) SetBaseURL(baseURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = baseURL
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logRequests)
	r.Use(recoverPanics)

	r.Get("/v1/jobs", s.listJobs)
	r.Post("/v1/jobs", s.createJobFromURL)
	r.Delete("/v1/jobs/{jobID}", s.deleteJob)
	r.Patch("/v1/jobs/{jobID}/flag", s.flagJob)
	r.Post("/v1/jobs/{jobID}/pause", s.pauseJob)
	r.Post("/v1/jobs/{jobID}/resume", s.resumeJob)
	r.Post("/v1/jobs/{jobID}/cancel", s.cancelJob)
	r.Get("/v1/jobs/{jobID}/events", s.jobEvents)

	r.Post("/v1/uploads", s.createUpload)
	r.Put("/blob/{uploadID}", s.receiveBlob)
	r.Post("/v1/uploads/{uploadID}/complete", s.completeUpload)

	return r
}

// Step advances every processing job by pct progress, completing those that
// reach 100 and flipping pause requests into paused. Called on a ticker in
// the mockserver command so demo jobs move on their own.
func (s *Server) Step(pct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		switch job.Status {
		case models.StatusQueued:
			job.Status = models.StatusProcessing
		case models.StatusProcessing:
			if job.PauseRequested {
				job.Status = models.StatusPaused
				job.PauseRequested = false
				continue
			}
			job.ProgressPct += pct
			if job.ProgressPct >= 100 {
				job.ProgressPct = 100
				job.Status = models.StatusCompleted
			}
		}
	}
}

// Seed inserts a job directly, for tests and demo bootstrapping.
func (s *Server) Seed(job models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job
	s.jobs[j.ID] = &j
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	statusFilter := models.JobStatus(r.URL.Query().Get("status"))

	s.mu.Lock()
	out := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if statusFilter != "" && job.Status != statusFilter {
			continue
		}
		out = append(out, *job)
	}
	s.mu.Unlock()

	// Most-recent-first, as the client expects.
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit := r.URL.Query().Get("limit"); limit != "" {
		var n int
		if _, err := fmt.Sscanf(limit, "%d", &n); err == nil && n > 0 && n < len(out) {
			out = out[:n]
		}
	}

	respond(w, http.StatusOK, out)
}

type createJobRequest struct {
	Source  models.SourceKind      `json:"source"`
	URL     string                 `json:"url"`
	Title   string                 `json:"title"`
	Desc    string                 `json:"description"`
	Capture *models.CaptureOptions `json:"capture"`
}

func (s *Server) createJobFromURL(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "url is required")
		return
	}

	title := req.Title
	if title == "" {
		title = req.URL
	}
	job := &models.Job{
		ID:        uuid.NewString(),
		Status:    models.StatusQueued,
		Source:    models.SourceURL,
		SourceURL: req.URL,
		Title:     title,
		Description: req.Desc,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	respond(w, http.StatusCreated, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.Status == models.StatusProcessing || job.IsFlagged {
		respondError(w, http.StatusConflict, "conflict", "job cannot be deleted in its current state")
		return
	}
	delete(s.jobs, jobID)
	w.WriteHeader(http.StatusNoContent)
}

type flagRequest struct {
	Flagged bool   `json:"flagged"`
	Note    string `json:"note"`
}

func (s *Server) flagJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	job.IsFlagged = req.Flagged
	job.FlagNote = req.Note
	respond(w, http.StatusOK, job)
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.transitionJob(w, r, func(job *models.Job) (string, bool) {
		if job.Status != models.StatusProcessing && job.Status != models.StatusQueued {
			return "job cannot be paused in its current state", false
		}
		job.PauseRequested = true
		return "", true
	})
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.transitionJob(w, r, func(job *models.Job) (string, bool) {
		if job.Status != models.StatusPaused {
			return "job is not paused", false
		}
		job.Status = models.StatusProcessing
		job.PauseRequested = false
		return "", true
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.transitionJob(w, r, func(job *models.Job) (string, bool) {
		if job.Status.Terminal() {
			return "job is already finished", false
		}
		job.Status = models.StatusCancelled
		job.PauseRequested = false
		return "", true
	})
}

func (s *Server) transitionJob(w http.ResponseWriter, r *http.Request, apply func(*models.Job) (string, bool)) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if msg, ok := apply(job); !ok {
		respondError(w, http.StatusConflict, "conflict", msg)
		return
	}
	respond(w, http.StatusOK, job)
}

type presignRequest struct {
	Filename      string            `json:"filename"`
	ContentType   string            `json:"content_type"`
	ContentLength int64             `json:"content_length"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Options       map[string]string `json:"options"`
}

func (s *Server) createUpload(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Filename == "" || req.ContentType == "" || req.ContentLength <= 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "filename, content_type and content_length are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	uploadID := uuid.NewString()
	rec := &uploadRecord{
		presign: models.PresignedUpload{
			UploadID:      uploadID,
			URL:           s.baseURL + "/blob/" + uploadID,
			Headers:       map[string]string{"Content-Type": req.ContentType},
			ContentLength: req.ContentLength,
		},
		filename: req.Filename,
		meta: models.Metadata{
			Title:       req.Title,
			Description: req.Description,
			Options:     req.Options,
		},
	}
	s.uploads[uploadID] = rec
	respond(w, http.StatusCreated, rec.presign)
}

func (s *Server) receiveBlob(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	s.mu.Lock()
	rec, ok := s.uploads[uploadID]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "unknown upload")
		return
	}

	var received int64
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Body.Read(buf)
		received += int64(n)
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	rec.received = received
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) completeUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.uploads[uploadID]
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "unknown upload")
		return
	}
	if rec.finalized {
		respondError(w, http.StatusConflict, "conflict", "upload already finalized")
		return
	}
	if rec.received == 0 {
		respondError(w, http.StatusConflict, "conflict", "no blob received for upload")
		return
	}

	rec.finalized = true
	title := rec.meta.Title
	if title == "" {
		title = rec.filename
	}
	job := &models.Job{
		ID:          uuid.NewString(),
		Status:      models.StatusQueued,
		Source:      models.SourceFile,
		Filename:    rec.filename,
		Title:       title,
		Description: rec.meta.Description,
		CreatedAt:   time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	respond(w, http.StatusCreated, job)
}

// jobEvents streams status/progress snapshots for one job until it reaches
// a terminal state or the client disconnects.
func (s *Server) jobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	_, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		job, ok := s.jobs[jobID]
		var status models.JobStatus
		var progress int
		if ok {
			status, progress = job.Status, job.ProgressPct
		}
		s.mu.Unlock()
		if !ok {
			return
		}

		ev := map[string]any{
			"job_id":       jobID,
			"status":       status,
			"progress_pct": progress,
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		if status.Terminal() {
			return
		}

		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}

// logRequests logs method, path, and duration for each request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// recoverPanics turns handler panics into 500 responses.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "panic", rec, "path", r.URL.Path)
				respondError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
