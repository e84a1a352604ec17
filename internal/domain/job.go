package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeSingle    JobType = "single"
	JobTypeCharacter JobType = "character"
	JobTypeBatch     JobType = "batch"
)

// JobStatus enumerates job lifecycle states. Completed and failed are
// terminal; a processing job that fails a retryable attempt goes back to
// pending with its retry bookkeeping updated.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one unit of generation work. Payload is the opaque request body
// forwarded to the provider; Result and Error are populated by the worker.
type Job struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	Type      JobType           `json:"type"`
	Status    JobStatus         `json:"status"`
	Priority  int               `json:"priority"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Error     *JobError         `json:"error,omitempty"`
	Result    *GenerationResult `json:"result,omitempty"`
	NotBefore time.Time         `json:"not_before,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// JobError records the outcome of a failed attempt. RetryCount increases by
// one on every failed attempt; once retries are exhausted Retryable is forced
// false regardless of the error's intrinsic classification.
type JobError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryCount int    `json:"retry_count"`
}

// GenerationResult is the success payload stored on a completed job.
type GenerationResult struct {
	ID        string         `json:"id"`
	ImageURL  string         `json:"image_url"`
	Metadata  ResultMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// ResultMetadata describes the generated asset.
type ResultMetadata struct {
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Format         string        `json:"format"`
	FileSize       int64         `json:"file_size"`
	GenerationTime time.Duration `json:"generation_time_ms"`
	Seed           int64         `json:"seed"`
	Model          string        `json:"model"`
	Provider       string        `json:"provider"`
}

// JobPatch is a partial update applied by the queue service. Nil fields are
// left untouched.
type JobPatch struct {
	Status    *JobStatus
	Error     *JobError
	Result    *GenerationResult
	NotBefore *time.Time
}

// QueueMetrics is a point-in-time aggregate over the job collection.
type QueueMetrics struct {
	Pending           int64         `json:"pending"`
	Processing        int64         `json:"processing"`
	Completed         int64         `json:"completed"`
	Failed            int64         `json:"failed"`
	AvgWaitTime       time.Duration `json:"avg_wait_time_ms"`
	AvgProcessingTime time.Duration `json:"avg_processing_time_ms"`
	ThroughputPerHour int64         `json:"throughput_per_hour"`
}

// StatusPtr is a convenience for building a JobPatch.
func StatusPtr(s JobStatus) *JobStatus { return &s }

// TimePtr is a convenience for building a JobPatch.
func TimePtr(t time.Time) *time.Time { return &t }
