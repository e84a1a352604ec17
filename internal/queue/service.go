// Package queue owns the durable generation job collection. The Service
// interface is the worker's only view of the backing store; Postgres and
// Redis implementations are provided.
package queue

import (
	"context"
	"fmt"

	"genqueue/internal/domain"
)

// Service is the durable job collection. Implementations must guarantee that
// NextJobs never hands the same pending job to two concurrent callers when
// the backing store supports an atomic claim; stores that cannot (see Redis)
// require a single worker process.
type Service interface {
	// Initialize connects to the backing store and prepares the job
	// collection. Safe to call more than once.
	Initialize(ctx context.Context) error

	// Enqueue inserts a new pending job.
	Enqueue(ctx context.Context, job *domain.Job) error

	// NextJobs returns up to limit pending jobs whose not-before time has
	// passed, ordered by priority descending then creation time ascending.
	// Returned jobs stay pending; the caller transitions them via UpdateJob.
	NextJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// Job fetches one job by ID; domain.ErrNotFound when absent.
	Job(ctx context.Context, id string) (*domain.Job, error)

	// UpdateJob applies a partial update and returns the updated job, or
	// (nil, nil) when the job no longer exists. Nil patch fields are left
	// untouched.
	UpdateJob(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error)

	// Metrics computes a point-in-time aggregate over the collection.
	Metrics(ctx context.Context) (*domain.QueueMetrics, error)

	// Shutdown releases backing-store resources. Safe to call more than once.
	Shutdown(ctx context.Context) error
}

// InitError wraps a backing-store connection failure during Initialize.
type InitError struct {
	Backend string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("queue: initialize %s store: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
