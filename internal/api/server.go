package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"voice-summarizer/internal/config"
	"voice-summarizer/internal/models"
	"voice-summarizer/internal/store"
	"voice-summarizer/internal/telemetry"
)

// JobStore is the record access the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
}

// Launcher hands an accepted job to the workflow worker.
type Launcher interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Uploader issues time-limited write credentials into the blob store.
type Uploader interface {
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, error)
}

// Limiter throttles job and upload creation per client.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// Server wires HTTP handlers for the job API.
type Server struct {
	cfg      config.Config
	store    JobStore
	launcher Launcher
	uploader Uploader
	limiter  Limiter
}

// New constructs the API server.
func New(cfg config.Config, st JobStore, launcher Launcher, uploader Uploader, limiter Limiter) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		launcher: launcher,
		uploader: uploader,
		limiter:  limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/summary/uploads", s.handleCreateUploadSlot)
	r.Post("/v1/summary/jobs", s.handleStartJob)
	r.Get("/v1/summary/jobs/{jobId}", s.handleGetJob)
	return r
}

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type uploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	S3Key     string `json:"s3Key"`
}

func (s *Server) handleCreateUploadSlot(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Filename == "" || req.ContentType == "" || req.Size == 0 {
		writeError(w, http.StatusBadRequest, "Missing upload metadata")
		return
	}
	if req.Size > s.cfg.MaxAudioBytes {
		writeError(w, http.StatusBadRequest, "Audio file exceeds 200MB limit")
		return
	}
	if !strings.HasPrefix(req.ContentType, "audio/") {
		writeError(w, http.StatusBadRequest, "Unsupported audio content type")
		return
	}

	key := uploadKey(req.Filename)
	url, err := s.uploader.PresignPut(r.Context(), key, req.ContentType, req.Size, s.cfg.UploadURLTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create upload slot")
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{UploadURL: url, S3Key: key})
}

type startJobRequest struct {
	S3Key string `json:"s3Key"`
	Notes string `json:"notes"`
}

type startJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}

	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.S3Key == "" {
		writeError(w, http.StatusBadRequest, "Missing s3Key")
		return
	}
	if !strings.HasPrefix(req.S3Key, "uploads/") {
		writeError(w, http.StatusBadRequest, "Invalid s3Key")
		return
	}
	if len(req.Notes) > s.cfg.NotesMaxChars {
		writeError(w, http.StatusBadRequest, "Notes exceed 4000 characters")
		return
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	job := models.Job{
		ID:            id,
		Status:        models.StatusQueued,
		Progress:      5,
		Notes:         req.Notes,
		AudioKey:      req.S3Key,
		TranscriptKey: fmt.Sprintf("jobs/%s/transcript.json", id),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.JobRetention),
	}

	if err := s.store.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.launcher.Enqueue(r.Context(), job.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	telemetry.JobsStarted.Inc()

	writeJSON(w, http.StatusOK, startJobResponse{JobID: job.ID, Status: job.Status})
}

type jobProjection struct {
	JobID          string  `json:"jobId"`
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	ResultMarkdown *string `json:"resultMarkdown,omitempty"`
	Message        *string `json:"message,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobProjection{
		JobID:          job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		ResultMarkdown: job.ResultMarkdown,
		Message:        job.Message,
	})
}

// allow applies the per-client rate limit. Returns false when the request
// was already answered.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+clientKey(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rate limit error")
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	return true
}

// uploadKey builds the storage key for a fresh upload slot. The uuid prefix
// keeps keys unique; the filename survives in sanitized form for debugging.
func uploadKey(filename string) string {
	base := path.Base(filename)
	ext := path.Ext(base)
	name := slug.Make(strings.TrimSuffix(base, ext))
	if name == "" {
		name = "audio"
	}
	return fmt.Sprintf("uploads/%s-%s%s", uuid.NewString(), name, strings.ToLower(ext))
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return strings.TrimSpace(strings.Split(v, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
