// Package processor executes one generation job against the external
// provider, applying the endpoint's timeout, circuit breaker and rate limit.
// It never touches the queue; job-state mutation is the worker's business.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/providers/nanobanana"
	"genqueue/internal/resilience"
)

// Generator is the provider contract the processor drives.
type Generator interface {
	Generate(ctx context.Context, req nanobanana.GenerateRequest) (*nanobanana.Generation, error)
}

// GenerationPayload is the decoded shape of Job.Payload.
type GenerationPayload struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
}

// Service is the batch processor for one provider endpoint.
type Service struct {
	provider Generator
	endpoint resilience.EndpointConfig
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
	logger   zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New resolves the named endpoint policy and builds its breaker and limiter.
func New(provider Generator, endpointName string, policies resilience.Config, logger zerolog.Logger) *Service {
	endpoint := policies.Endpoint(endpointName)
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		provider: provider,
		endpoint: endpoint,
		breaker:  resilience.NewBreaker(endpoint.Breaker),
		limiter:  resilience.NewLimiter(endpoint.RateLimit),
		logger:   logger.With().Str("component", "processor").Str("endpoint", endpointName).Logger(),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// ProcessJob sends the job's payload to the provider. Failures come back
// classified (carrying code and/or status) so the worker can decide retry
// treatment; breaker and limiter rejections short-circuit before any
// outbound call.
func (s *Service) ProcessJob(ctx context.Context, job domain.Job) (*domain.GenerationResult, error) {
	var payload GenerationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, &domain.ProviderError{
			Code:       "INVALID_PAYLOAD",
			StatusCode: 400,
			Message:    fmt.Sprintf("decode job payload: %v", err),
			Err:        err,
		}
	}

	if err := s.breaker.Allow(); err != nil {
		return nil, &domain.ProviderError{
			Code:    "SERVICE_UNAVAILABLE",
			Message: fmt.Sprintf("circuit breaker open for %s", s.endpoint.Name),
			Err:     err,
		}
	}
	if !s.limiter.Allow() {
		// No call was made: hand back the slot Allow reserved on the
		// breaker instead of recording an outcome.
		s.breaker.Cancel()
		return nil, &domain.ProviderError{
			Code:       "RATE_LIMITED",
			StatusCode: 429,
			Message:    fmt.Sprintf("outbound rate limit reached for %s", s.endpoint.Name),
		}
	}

	callCtx, cancelCall := context.WithTimeout(ctx, s.endpoint.Timeout)
	defer cancelCall()
	stop := context.AfterFunc(s.baseCtx, cancelCall)
	defer stop()

	start := time.Now()
	gen, err := s.provider.Generate(callCtx, nanobanana.GenerateRequest{
		Prompt:         payload.Prompt,
		NegativePrompt: payload.NegativePrompt,
		AspectRatio:    payload.AspectRatio,
		Seed:           payload.Seed,
		RequestID:      job.ID,
	})
	elapsed := time.Since(start)
	s.limiter.Record(err == nil)
	s.breaker.Record(err)

	if err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Dur("elapsed", elapsed).
			Msg("provider call failed")
		return nil, err
	}

	id := gen.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &domain.GenerationResult{
		ID:       id,
		ImageURL: gen.ImageURL,
		Metadata: domain.ResultMetadata{
			Width:          gen.Width,
			Height:         gen.Height,
			Format:         gen.Format,
			FileSize:       gen.FileSize,
			GenerationTime: elapsed,
			Seed:           gen.Seed,
			Model:          gen.Model,
			Provider:       s.endpoint.Name,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// BreakerState exposes the endpoint gate position for observability.
func (s *Service) BreakerState() resilience.BreakerState {
	return s.breaker.State()
}

// Shutdown aborts in-flight provider calls best-effort.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	return nil
}
