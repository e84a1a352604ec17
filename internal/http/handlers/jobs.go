package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"genqueue/internal/domain"
)

// EnqueueJobRequest is the POST /api/v1/jobs body. Payload is passed to the
// provider untouched; prompt presence is the only validation done here.
type EnqueueJobRequest struct {
	Type     domain.JobType  `json:"type"`
	UserID   string          `json:"user_id"`
	Priority int             `json:"priority"`
	Payload  json.RawMessage `json:"payload"`
}

// EnqueueJob inserts a new pending job and returns it with 202.
func (a *App) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.Prompt == "" {
		a.jsonError(w, http.StatusBadRequest, "payload.prompt is required")
		return
	}
	jobType := req.Type
	if jobType == "" {
		jobType = domain.JobTypeSingle
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Type:      jobType,
		Status:    domain.JobStatusPending,
		Priority:  req.Priority,
		Payload:   req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.Queue.Enqueue(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("enqueue failed")
		a.jsonError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	a.json(w, http.StatusAccepted, job)
}

// GetJob returns the persisted job record, including status and any error.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := a.Queue.Job(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.jsonError(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", id).Msg("load job failed")
		a.jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	a.json(w, http.StatusOK, job)
}

// QueueMetrics returns the point-in-time queue aggregate.
func (a *App) QueueMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := a.Queue.Metrics(r.Context())
	if err != nil {
		a.Logger.Error().Err(err).Msg("queue metrics failed")
		a.jsonError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	a.json(w, http.StatusOK, metrics)
}
