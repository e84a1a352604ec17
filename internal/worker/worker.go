// Package worker drives generation jobs from the queue through the batch
// processor: bounded concurrency, retry with backoff, stale-job health
// checks, and lifecycle events for external consumers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/queue"
	"genqueue/internal/resilience"
)

// Processor executes a single job against the external provider.
type Processor interface {
	ProcessJob(ctx context.Context, job domain.Job) (*domain.GenerationResult, error)
	Shutdown(ctx context.Context) error
}

// State is the worker lifecycle position.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// HealthState summarizes worker health.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Config holds the worker's scheduling knobs. Zero values fall back to the
// defaults in withDefaults.
type Config struct {
	Concurrency         int
	PollInterval        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
	StaleJobThreshold   time.Duration
	ShutdownTimeout     time.Duration
	ErrorRateCeiling    float64
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.StaleJobThreshold <= 0 {
		c.StaleJobThreshold = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.ErrorRateCeiling <= 0 {
		c.ErrorRateCeiling = 50
	}
	return c
}

// Metrics is the worker's lifetime counter snapshot.
type Metrics struct {
	Processed             int64         `json:"processed"`
	Successful            int64         `json:"successful"`
	Failed                int64         `json:"failed"`
	Retried               int64         `json:"retried"`
	AverageProcessingTime time.Duration `json:"average_processing_time_ms"`
	Uptime                time.Duration `json:"uptime_ms"`
	CurrentLoad           float64       `json:"current_load"`
}

// Health is the derived health summary.
type Health struct {
	Status     HealthState `json:"status"`
	ActiveJobs int         `json:"active_jobs"`
	QueueSize  int64       `json:"queue_size"`
	ErrorRate  float64     `json:"error_rate"`
	StaleJobs  int         `json:"stale_jobs"`
}

// Status is the synchronous snapshot returned by Status(); safe to call from
// any state.
type Status struct {
	Running    bool    `json:"is_running"`
	State      string  `json:"state"`
	ActiveJobs int     `json:"active_jobs"`
	Metrics    Metrics `json:"metrics"`
	Health     Health  `json:"health"`
}

// Worker polls the queue and drives each claimed job through the processor.
type Worker struct {
	cfg         Config
	retryPolicy resilience.RetryConfig
	queue       queue.Service
	processor   Processor
	logger      zerolog.Logger
	hub         *hub

	state  atomic.Int32
	cancel context.CancelFunc
	loops  sync.WaitGroup
	jobs   sync.WaitGroup

	mu              sync.Mutex
	active          map[string]time.Time
	processed       int64
	successful      int64
	failed          int64
	retried         int64
	totalProcessing time.Duration
	startedAt       time.Time
	lastQueueSize   int64
}

// New wires a worker to its collaborators. Nothing runs until Start.
func New(q queue.Service, p Processor, cfg Config, logger zerolog.Logger) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg: cfg,
		retryPolicy: resilience.RetryConfig{
			BaseDelay:         cfg.RetryDelay,
			MaxDelay:          5 * time.Minute,
			BackoffMultiplier: 2,
			JitterFactor:      0.2,
		},
		queue:     q,
		processor: p,
		logger:    logger.With().Str("component", "queue-worker").Logger(),
		hub:       newHub(),
		active:    make(map[string]time.Time),
	}
}

// Start initializes the queue and launches the poll and health-check loops.
// A second Start while running is a warned no-op. An initialization failure
// propagates and leaves the worker stopped: there is no partial-start state.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		w.logger.Warn().Str("state", w.State().String()).Msg("start ignored: worker not stopped")
		return nil
	}
	if err := w.queue.Initialize(ctx); err != nil {
		w.state.Store(int32(StateStopped))
		return fmt.Errorf("worker start: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel

	w.mu.Lock()
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.state.Store(int32(StateRunning))
	w.loops.Add(2)
	go w.pollLoop(runCtx)
	go w.healthLoop(runCtx)
	w.logger.Info().
		Int("concurrency", w.cfg.Concurrency).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("worker started")
	return nil
}

// Stop halts dequeuing immediately, waits up to the shutdown timeout for
// in-flight jobs, then shuts down both collaborators regardless. After a
// forced stop, jobs that later resolve still write their outcome to the
// queue best-effort but are no longer tracked by the counters.
func (w *Worker) Stop(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		w.logger.Warn().Str("state", w.State().String()).Msg("stop ignored: worker not running")
		return nil
	}
	w.logger.Info().Msg("worker stopping")
	w.cancel()
	w.loops.Wait()

	drained := make(chan struct{})
	go func() {
		w.jobs.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(w.cfg.ShutdownTimeout):
		w.mu.Lock()
		abandoned := len(w.active)
		w.active = make(map[string]time.Time)
		w.mu.Unlock()
		w.logger.Warn().
			Int("abandoned_jobs", abandoned).
			Dur("timeout", w.cfg.ShutdownTimeout).
			Msg("shutdown timeout elapsed, forcing stop")
	}

	var errs []error
	if err := w.queue.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("queue shutdown: %w", err))
	}
	if err := w.processor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("processor shutdown: %w", err))
	}
	w.state.Store(int32(StateStopped))
	w.logger.Info().Msg("worker stopped")
	return errors.Join(errs...)
}

// State returns the lifecycle position.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Subscribe registers a lifecycle-event consumer. The cancel func must be
// called when done.
func (w *Worker) Subscribe() (<-chan Event, func()) {
	return w.hub.subscribe()
}

// Status returns a synchronous snapshot; safe to call from any state.
func (w *Worker) Status() Status {
	state := w.State()
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Running:    state == StateRunning,
		State:      state.String(),
		ActiveJobs: len(w.active),
		Metrics:    w.metricsLocked(),
		Health:     w.healthLocked(),
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.loops.Done()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce claims up to the free capacity and launches an execution per job.
// This is the only place concurrency is enforced.
func (w *Worker) pollOnce(ctx context.Context) {
	w.mu.Lock()
	capacity := w.cfg.Concurrency - len(w.active)
	w.mu.Unlock()
	if capacity <= 0 {
		return
	}

	jobs, err := w.queue.NextJobs(ctx, capacity)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("dequeue failed")
		}
		return
	}
	for i := range jobs {
		job := jobs[i]
		updated, err := w.queue.UpdateJob(ctx, job.ID, domain.JobPatch{
			Status: domain.StatusPtr(domain.JobStatusProcessing),
		})
		if err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark processing failed")
			continue
		}
		if updated == nil {
			w.logger.Debug().Str("job_id", job.ID).Msg("job vanished before processing")
			continue
		}

		w.mu.Lock()
		w.active[updated.ID] = time.Now()
		w.mu.Unlock()

		w.hub.publish(Event{
			Type:      EventJobStarted,
			JobID:     updated.ID,
			Job:       updated,
			Timestamp: time.Now(),
		})
		w.jobs.Add(1)
		// Job executions outlive a canceled poll loop so that Stop can
		// drain them; the processor's own shutdown aborts their calls.
		go w.execute(context.WithoutCancel(ctx), *updated)
	}
}

func (w *Worker) execute(ctx context.Context, job domain.Job) {
	defer w.jobs.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Str("job_id", job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job execution panicked")
			jobErr := &domain.JobError{
				Code:       "INTERNAL_PANIC",
				Message:    fmt.Sprintf("job execution panicked: %v", r),
				Retryable:  false,
				RetryCount: retryCountOf(job) + 1,
			}
			w.finalizeFailed(ctx, job, jobErr, 0)
			w.hub.publish(Event{
				Type:      EventUncaughtError,
				JobID:     job.ID,
				Error:     jobErr,
				Timestamp: time.Now(),
			})
		}
	}()

	start := time.Now()
	result, err := w.processor.ProcessJob(ctx, job)
	elapsed := time.Since(start)
	if err == nil {
		w.complete(ctx, job, result, elapsed)
		return
	}
	w.failOrRetry(ctx, job, err, elapsed)
}

func (w *Worker) complete(ctx context.Context, job domain.Job, result *domain.GenerationResult, elapsed time.Duration) {
	updated, err := w.queue.UpdateJob(ctx, job.ID, domain.JobPatch{
		Status: domain.StatusPtr(domain.JobStatusCompleted),
		Result: result,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist completion failed")
	}

	// A forced stop already untracked the job; its late outcome stays out
	// of the counters.
	w.mu.Lock()
	if _, tracked := w.active[job.ID]; tracked {
		delete(w.active, job.ID)
		w.processed++
		w.successful++
		w.totalProcessing += elapsed
	}
	w.mu.Unlock()

	eventJob := updated
	if eventJob == nil {
		eventJob = &job
	}
	w.hub.publish(Event{
		Type:           EventJobCompleted,
		JobID:          job.ID,
		Job:            eventJob,
		Result:         result,
		ProcessingTime: elapsed,
		Timestamp:      time.Now(),
	})
	w.logger.Info().
		Str("job_id", job.ID).
		Dur("processing_time", elapsed).
		Msg("job completed")
}

func (w *Worker) failOrRetry(ctx context.Context, job domain.Job, cause error, elapsed time.Duration) {
	newCount := retryCountOf(job) + 1
	jobErr := &domain.JobError{
		Code:       errorCode(cause),
		Message:    cause.Error(),
		RetryCount: newCount,
	}

	// The attempt that brings retryCount up to MaxRetries is the last one.
	if resilience.IsRetryable(cause) && newCount < w.cfg.MaxRetries {
		jobErr.Retryable = true
		notBefore := time.Now().Add(resilience.Backoff(w.retryPolicy, newCount))
		if _, err := w.queue.UpdateJob(ctx, job.ID, domain.JobPatch{
			Status:    domain.StatusPtr(domain.JobStatusPending),
			Error:     jobErr,
			NotBefore: &notBefore,
		}); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("requeue failed")
		}

		w.mu.Lock()
		if _, tracked := w.active[job.ID]; tracked {
			delete(w.active, job.ID)
			w.retried++
		}
		w.mu.Unlock()

		w.logger.Info().
			Str("job_id", job.ID).
			Int("retry_count", newCount).
			Time("not_before", notBefore).
			Str("code", jobErr.Code).
			Msg("job requeued for retry")
		return
	}

	// Non-retryable, or retries exhausted: terminal failure either way.
	jobErr.Retryable = false
	w.finalizeFailed(ctx, job, jobErr, elapsed)
}

func (w *Worker) finalizeFailed(ctx context.Context, job domain.Job, jobErr *domain.JobError, elapsed time.Duration) {
	updated, err := w.queue.UpdateJob(ctx, job.ID, domain.JobPatch{
		Status: domain.StatusPtr(domain.JobStatusFailed),
		Error:  jobErr,
	})
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist failure failed")
	}

	w.mu.Lock()
	if _, tracked := w.active[job.ID]; tracked {
		delete(w.active, job.ID)
		w.processed++
		w.failed++
		w.totalProcessing += elapsed
	}
	w.mu.Unlock()

	eventJob := updated
	if eventJob == nil {
		eventJob = &job
	}
	w.hub.publish(Event{
		Type:      EventJobFailed,
		JobID:     job.ID,
		Job:       eventJob,
		Error:     jobErr,
		Timestamp: time.Now(),
	})
	w.logger.Warn().
		Str("job_id", job.ID).
		Str("code", jobErr.Code).
		Int("retry_count", jobErr.RetryCount).
		Msg("job failed")
}

func (w *Worker) healthLoop(ctx context.Context) {
	defer w.loops.Done()
	ticker := time.NewTicker(w.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.healthTick(ctx)
		}
	}
}

// healthTick refreshes the queue-size cache and emits a healthCheck event
// every tick, status change or not.
func (w *Worker) healthTick(ctx context.Context) {
	if m, err := w.queue.Metrics(ctx); err == nil {
		w.mu.Lock()
		w.lastQueueSize = m.Pending
		w.mu.Unlock()
	} else if ctx.Err() == nil {
		w.logger.Debug().Err(err).Msg("queue metrics unavailable")
	}

	w.mu.Lock()
	health := w.healthLocked()
	metrics := w.metricsLocked()
	w.mu.Unlock()

	w.hub.publish(Event{
		Type:      EventHealthCheck,
		Health:    &health,
		Metrics:   &metrics,
		Timestamp: time.Now(),
	})
	if health.Status != HealthHealthy {
		w.logger.Warn().
			Str("status", string(health.Status)).
			Int("stale_jobs", health.StaleJobs).
			Float64("error_rate", health.ErrorRate).
			Msg("worker health degraded")
	}
}

func (w *Worker) healthLocked() Health {
	now := time.Now()
	stale := 0
	for _, startedAt := range w.active {
		if now.Sub(startedAt) > w.cfg.StaleJobThreshold {
			stale++
		}
	}
	errorRate := 0.0
	if w.processed > 0 {
		errorRate = float64(w.failed) / float64(w.processed) * 100
	}
	status := HealthHealthy
	if stale > 0 {
		status = HealthDegraded
	}
	if errorRate > w.cfg.ErrorRateCeiling {
		status = HealthUnhealthy
	}
	return Health{
		Status:     status,
		ActiveJobs: len(w.active),
		QueueSize:  w.lastQueueSize,
		ErrorRate:  errorRate,
		StaleJobs:  stale,
	}
}

func (w *Worker) metricsLocked() Metrics {
	avg := time.Duration(0)
	if w.processed > 0 {
		avg = w.totalProcessing / time.Duration(w.processed)
	}
	uptime := time.Duration(0)
	if !w.startedAt.IsZero() {
		uptime = time.Since(w.startedAt)
	}
	load := float64(len(w.active)) / float64(w.cfg.Concurrency)
	if load > 1 {
		load = 1
	}
	return Metrics{
		Processed:             w.processed,
		Successful:            w.successful,
		Failed:                w.failed,
		Retried:               w.retried,
		AverageProcessingTime: avg,
		Uptime:                uptime,
		CurrentLoad:           load,
	}
}

func retryCountOf(job domain.Job) int {
	if job.Error != nil {
		return job.Error.RetryCount
	}
	return 0
}

func errorCode(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		if pe.Code != "" {
			return pe.Code
		}
		if pe.StatusCode != 0 {
			return fmt.Sprintf("HTTP_%d", pe.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "ETIMEDOUT"
	}
	return "UNKNOWN_ERROR"
}
