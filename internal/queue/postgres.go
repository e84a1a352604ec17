package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
)

// defaultClaimTTL bounds how long a claimed-but-not-yet-transitioned job is
// invisible to other callers. One poll cycle is plenty.
const defaultClaimTTL = 30 * time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS generation_jobs (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL DEFAULT '',
    type         TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    priority     INT NOT NULL DEFAULT 0,
    payload      JSONB,
    error_json   JSONB,
    result_json  JSONB,
    not_before   TIMESTAMPTZ NOT NULL DEFAULT now(),
    locked_until TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS generation_jobs_claim_idx
    ON generation_jobs (status, priority DESC, created_at ASC);
`

// claimSQL leases the next eligible pending jobs without transitioning them.
// FOR UPDATE SKIP LOCKED keeps concurrent callers off the same rows inside
// the statement; the lock lease keeps them off across poll cycles until the
// worker's UpdateJob lands.
const claimSQL = `
WITH claimable AS (
    SELECT id
    FROM generation_jobs
    WHERE status = 'pending'
      AND not_before <= now()
      AND (locked_until IS NULL OR locked_until <= now())
    ORDER BY priority DESC, created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $1
),
claimed AS (
    UPDATE generation_jobs j
    SET locked_until = now() + make_interval(secs => $2)
    FROM claimable c
    WHERE j.id = c.id
    RETURNING j.id, j.user_id, j.type, j.status, j.priority, j.payload,
              j.error_json, j.result_json, j.not_before, j.created_at, j.updated_at
)
SELECT * FROM claimed ORDER BY priority DESC, created_at ASC;
`

const updateSQL = `
UPDATE generation_jobs
SET status       = COALESCE($2, status),
    error_json   = COALESCE($3, error_json),
    result_json  = COALESCE($4, result_json),
    not_before   = COALESCE($5, not_before),
    locked_until = CASE WHEN $2 IS NOT NULL THEN NULL ELSE locked_until END,
    updated_at   = now()
WHERE id = $1
RETURNING id, user_id, type, status, priority, payload,
          error_json, result_json, not_before, created_at, updated_at;
`

const insertSQL = `
INSERT INTO generation_jobs (id, user_id, type, status, priority, payload, not_before, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now(), now());
`

const getSQL = `
SELECT id, user_id, type, status, priority, payload,
       error_json, result_json, not_before, created_at, updated_at
FROM generation_jobs
WHERE id = $1;
`

const metricsSQL = `
SELECT
    count(*) FILTER (WHERE status = 'pending'),
    count(*) FILTER (WHERE status = 'processing'),
    count(*) FILTER (WHERE status = 'completed'),
    count(*) FILTER (WHERE status = 'failed'),
    COALESCE(avg(EXTRACT(EPOCH FROM (now() - created_at))) FILTER (WHERE status = 'pending'), 0),
    COALESCE(avg(EXTRACT(EPOCH FROM (updated_at - created_at))) FILTER (WHERE status = 'completed'), 0),
    count(*) FILTER (WHERE status = 'completed' AND updated_at >= now() - interval '1 hour')
FROM generation_jobs;
`

// Postgres implements Service on a pgx connection pool.
type Postgres struct {
	databaseURL string
	logger      zerolog.Logger
	claimTTL    time.Duration

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgres builds an unconnected Postgres store; Initialize connects it.
func NewPostgres(databaseURL string, logger zerolog.Logger) *Postgres {
	return &Postgres{
		databaseURL: databaseURL,
		logger:      logger.With().Str("component", "queue-postgres").Logger(),
		claimTTL:    defaultClaimTTL,
	}
}

// Initialize connects the pool and ensures the schema exists. Idempotent.
func (p *Postgres) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}
	pool, err := infra.NewDBPool(ctx, p.databaseURL)
	if err != nil {
		return &InitError{Backend: "postgres", Err: err}
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return &InitError{Backend: "postgres", Err: fmt.Errorf("ensure schema: %w", err)}
	}
	p.pool = pool
	p.logger.Info().Msg("queue store ready")
	return nil
}

// Enqueue inserts a new pending job.
func (p *Postgres) Enqueue(ctx context.Context, job *domain.Job) error {
	pool, err := p.connected()
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	_, err = pool.Exec(ctx, insertSQL,
		job.ID, job.UserID, job.Type, job.Status, job.Priority, nullableJSON(job.Payload))
	return err
}

// NextJobs leases up to limit eligible pending jobs.
func (p *Postgres) NextJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	pool, err := p.connected()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := pool.Query(ctx, claimSQL, limit, p.claimTTL.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Job fetches one job by ID.
func (p *Postgres) Job(ctx context.Context, id string) (*domain.Job, error) {
	pool, err := p.connected()
	if err != nil {
		return nil, err
	}
	job, err := scanJob(pool.QueryRow(ctx, getSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// UpdateJob applies a partial update; (nil, nil) when the job is gone.
func (p *Postgres) UpdateJob(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error) {
	pool, err := p.connected()
	if err != nil {
		return nil, err
	}
	errJSON, err := marshalNullable(patch.Error)
	if err != nil {
		return nil, fmt.Errorf("encode error patch: %w", err)
	}
	resultJSON, err := marshalNullable(patch.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result patch: %w", err)
	}
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	job, err := scanJob(pool.QueryRow(ctx, updateSQL, id, status, errJSON, resultJSON, patch.NotBefore))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

// Metrics computes the aggregate over the whole table.
func (p *Postgres) Metrics(ctx context.Context) (*domain.QueueMetrics, error) {
	pool, err := p.connected()
	if err != nil {
		return nil, err
	}
	var m domain.QueueMetrics
	var avgWaitSecs, avgProcSecs float64
	err = pool.QueryRow(ctx, metricsSQL).Scan(
		&m.Pending, &m.Processing, &m.Completed, &m.Failed,
		&avgWaitSecs, &avgProcSecs, &m.ThroughputPerHour)
	if err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}
	m.AvgWaitTime = time.Duration(avgWaitSecs * float64(time.Second))
	m.AvgProcessingTime = time.Duration(avgProcSecs * float64(time.Second))
	return &m, nil
}

// Shutdown closes the pool. Safe to call more than once.
func (p *Postgres) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func (p *Postgres) connected() (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return nil, domain.ErrQueueUnavailable
	}
	return p.pool, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payload, errJSON, resultJSON []byte
	if err := row.Scan(
		&job.ID, &job.UserID, &job.Type, &job.Status, &job.Priority, &payload,
		&errJSON, &resultJSON, &job.NotBefore, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = append(json.RawMessage(nil), payload...)
	if len(errJSON) > 0 {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return nil, fmt.Errorf("decode job error: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		job.Result = &domain.GenerationResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &job, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch t := v.(type) {
	case *domain.JobError:
		if t == nil {
			return nil, nil
		}
	case *domain.GenerationResult:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
