package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genqueue/internal/domain"
)

const (
	jobKeyPrefix = "genqueue:job:"
	pendingKey   = "genqueue:pending"
	completedKey = "genqueue:completed"
	statsKey     = "genqueue:stats"

	// scoreBase separates priority bands in the pending sorted set. Each
	// band leaves room for millisecond timestamps (~1.8e12 today), so the
	// set pops by priority descending, then creation time ascending.
	scoreBase = 1e13
)

// Redis implements Service on a Redis instance. Claiming is arbitrated by
// ZRem (only one caller removes a member), but job-state updates are
// read-modify-write without a lease: run exactly one worker process against
// this store.
type Redis struct {
	addr     string
	password string
	logger   zerolog.Logger

	mu     sync.Mutex
	client *redis.Client
}

// NewRedis builds an unconnected Redis store; Initialize connects it.
func NewRedis(addr, password string, logger zerolog.Logger) *Redis {
	return &Redis{
		addr:     addr,
		password: password,
		logger:   logger.With().Str("component", "queue-redis").Logger(),
	}
}

// Initialize connects and pings the Redis instance. Idempotent.
func (r *Redis) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: r.addr, Password: r.password})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return &InitError{Backend: "redis", Err: err}
	}
	r.client = client
	r.logger.Info().Str("addr", r.addr).Msg("queue store ready")
	return nil
}

// Enqueue stores the job body and adds it to the pending pool.
func (r *Redis) Enqueue(ctx context.Context, job *domain.Job) error {
	client, err := r.connected()
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if err := r.saveJob(ctx, client, job); err != nil {
		return err
	}
	pipe := client.TxPipeline()
	pipe.ZAdd(ctx, pendingKey, redis.Z{Score: claimScore(job.Priority, job.CreatedAt), Member: job.ID})
	pipe.HIncrBy(ctx, statsKey, "pending", 1)
	_, err = pipe.Exec(ctx)
	return err
}

// scanPage bounds how many pending members each page of a claim pass
// inspects.
const scanPage = 64

// NextJobs claims up to limit eligible jobs from the pending pool. Members in
// retry backoff are left in place rather than popped and re-added, so a
// backlog of not-yet-eligible jobs costs one read per poll, not a rewrite,
// and a crash mid-claim cannot drop their pending membership.
func (r *Redis) NextJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	client, err := r.connected()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()
	var jobs []domain.Job
	var offset int64
	for len(jobs) < limit {
		ids, err := client.ZRange(ctx, pendingKey, offset, offset+scanPage-1).Result()
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		var removed int64
		for _, id := range ids {
			if len(jobs) >= limit {
				break
			}
			job, err := r.loadJob(ctx, client, id)
			if errors.Is(err, domain.ErrNotFound) {
				// body expired or deleted; drop the dangling member
				if client.ZRem(ctx, pendingKey, id).Err() == nil {
					removed++
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			if !claimable(job, now) {
				if job.Status != domain.JobStatusPending {
					// stale member: the job moved on without a claim
					if client.ZRem(ctx, pendingKey, id).Err() == nil {
						removed++
					}
				}
				continue
			}
			// ZRem doubles as the claim: zero removals means another
			// caller took the member first.
			n, err := client.ZRem(ctx, pendingKey, id).Result()
			if err != nil {
				return nil, fmt.Errorf("claim %s: %w", id, err)
			}
			if n == 0 {
				continue
			}
			removed++
			jobs = append(jobs, *job)
		}
		// Claimed members shift the remaining set left.
		offset += int64(len(ids)) - removed
	}
	return jobs, nil
}

// claimable reports whether a pending-set member may be handed out: still
// pending and past its not-before time.
func claimable(job *domain.Job, now time.Time) bool {
	return job.Status == domain.JobStatusPending && !job.NotBefore.After(now)
}

// Job fetches one job body by ID.
func (r *Redis) Job(ctx context.Context, id string) (*domain.Job, error) {
	client, err := r.connected()
	if err != nil {
		return nil, err
	}
	return r.loadJob(ctx, client, id)
}

// UpdateJob applies a partial update; (nil, nil) when the job is gone.
func (r *Redis) UpdateJob(ctx context.Context, id string, patch domain.JobPatch) (*domain.Job, error) {
	client, err := r.connected()
	if err != nil {
		return nil, err
	}
	job, err := r.loadJob(ctx, client, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	prev := job.Status
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.Result != nil {
		job.Result = patch.Result
	}
	if patch.NotBefore != nil {
		job.NotBefore = *patch.NotBefore
	}
	now := time.Now().UTC()
	job.UpdatedAt = now
	if err := r.saveJob(ctx, client, job); err != nil {
		return nil, err
	}
	if patch.Status != nil && *patch.Status != prev {
		pipe := client.TxPipeline()
		pipe.HIncrBy(ctx, statsKey, string(prev), -1)
		pipe.HIncrBy(ctx, statsKey, string(job.Status), 1)
		switch job.Status {
		case domain.JobStatusPending:
			pipe.ZAdd(ctx, pendingKey, redis.Z{Score: claimScore(job.Priority, job.CreatedAt), Member: job.ID})
		case domain.JobStatusCompleted:
			pipe.ZAdd(ctx, completedKey, redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
			pipe.HIncrBy(ctx, statsKey, "proc_ms_total", now.Sub(job.CreatedAt).Milliseconds())
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("update stats: %w", err)
		}
	}
	return job, nil
}

// Metrics aggregates the status counters plus a scan of the pending pool for
// the average wait.
func (r *Redis) Metrics(ctx context.Context) (*domain.QueueMetrics, error) {
	client, err := r.connected()
	if err != nil {
		return nil, err
	}
	stats, err := client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}
	m := &domain.QueueMetrics{
		Pending:    statInt(stats, "pending"),
		Processing: statInt(stats, "processing"),
		Completed:  statInt(stats, "completed"),
		Failed:     statInt(stats, "failed"),
	}
	if m.Completed > 0 {
		m.AvgProcessingTime = time.Duration(statInt(stats, "proc_ms_total")/m.Completed) * time.Millisecond
	}

	hourAgo := time.Now().Add(-time.Hour)
	throughput, err := client.ZCount(ctx, completedKey,
		strconv.FormatInt(hourAgo.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("completed count: %w", err)
	}
	m.ThroughputPerHour = throughput
	_ = client.ZRemRangeByScore(ctx, completedKey, "-inf", strconv.FormatInt(hourAgo.UnixMilli(), 10)).Err()

	// Average wait over a bounded sample of the pending pool.
	ids, err := client.ZRange(ctx, pendingKey, 0, 999).Result()
	if err != nil {
		return nil, fmt.Errorf("pending sample: %w", err)
	}
	if len(ids) > 0 {
		var total time.Duration
		var sampled int64
		now := time.Now()
		for _, id := range ids {
			job, err := r.loadJob(ctx, client, id)
			if err != nil {
				continue
			}
			total += now.Sub(job.CreatedAt)
			sampled++
		}
		if sampled > 0 {
			m.AvgWaitTime = total / time.Duration(sampled)
		}
	}
	return m, nil
}

// Shutdown closes the client. Safe to call more than once.
func (r *Redis) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		err := r.client.Close()
		r.client = nil
		return err
	}
	return nil
}

func (r *Redis) connected() (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil, domain.ErrQueueUnavailable
	}
	return r.client, nil
}

func (r *Redis) saveJob(ctx context.Context, client *redis.Client, job *domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return client.Set(ctx, jobKeyPrefix+job.ID, body, 0).Err()
}

func (r *Redis) loadJob(ctx context.Context, client *redis.Client, id string) (*domain.Job, error) {
	body, err := client.Get(ctx, jobKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job domain.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// claimScore orders the pending pool: priority descending, then creation
// time ascending, within float64 integer precision for priorities up to a
// few hundred.
func claimScore(priority int, createdAt time.Time) float64 {
	return float64(-priority)*scoreBase + float64(createdAt.UnixMilli())
}

func statInt(stats map[string]string, field string) int64 {
	n, _ := strconv.ParseInt(stats[field], 10, 64)
	return n
}
