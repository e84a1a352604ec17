package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genqueue/internal/domain"
	"genqueue/internal/providers/nanobanana"
	"genqueue/internal/resilience"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	last  nanobanana.GenerateRequest
	fn    func(ctx context.Context, req nanobanana.GenerateRequest) (*nanobanana.Generation, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req nanobanana.GenerateRequest) (*nanobanana.Generation, error) {
	g.mu.Lock()
	g.calls++
	g.last = req
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return &nanobanana.Generation{
		ID:       "gen-1",
		ImageURL: "https://cdn.example.com/gen-1.png",
		Width:    1024,
		Height:   1024,
		Format:   "png",
		Seed:     42,
		Model:    "nano-banana-v2",
	}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testPolicies() resilience.Config {
	return resilience.Config{
		Defaults: resilience.EndpointConfig{
			Retry: resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
			Breaker: resilience.BreakerConfig{
				FailureThreshold:  1,
				ResetTimeout:      time.Minute,
				MonitoringPeriod:  time.Minute,
				MinimumThroughput: 1,
			},
			RateLimit: resilience.RateLimitConfig{Window: time.Minute, MaxRequests: 100},
			Timeout:   time.Second,
		},
	}
}

func testJob(payload string) domain.Job {
	return domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeSingle,
		Status:  domain.JobStatusProcessing,
		Payload: []byte(payload),
	}
}

func TestProcessJobSuccess(t *testing.T) {
	gen := &fakeGenerator{}
	svc := New(gen, "testProvider", testPolicies(), zerolog.Nop())

	result, err := svc.ProcessJob(context.Background(), testJob(`{"prompt":"a red fox","aspect_ratio":"1:1","seed":42}`))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "gen-1", result.ID)
	assert.Equal(t, "https://cdn.example.com/gen-1.png", result.ImageURL)
	assert.Equal(t, "testProvider", result.Metadata.Provider)
	assert.Equal(t, int64(42), result.Metadata.Seed)

	gen.mu.Lock()
	last := gen.last
	gen.mu.Unlock()
	assert.Equal(t, "a red fox", last.Prompt)
	assert.Equal(t, "1:1", last.AspectRatio)
	assert.Equal(t, "job-1", last.RequestID)
}

func TestProcessJobInvalidPayload(t *testing.T) {
	gen := &fakeGenerator{}
	svc := New(gen, "testProvider", testPolicies(), zerolog.Nop())

	_, err := svc.ProcessJob(context.Background(), testJob(`{not json`))
	require.Error(t, err)

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "INVALID_PAYLOAD", pe.Code)
	assert.Equal(t, 400, pe.StatusCode)
	assert.False(t, resilience.IsRetryable(err))
	assert.Zero(t, gen.callCount())
}

func TestProcessJobBreakerShortCircuits(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, nanobanana.GenerateRequest) (*nanobanana.Generation, error) {
		return nil, &domain.ProviderError{StatusCode: 503, Message: "upstream down"}
	}}
	svc := New(gen, "testProvider", testPolicies(), zerolog.Nop())

	_, err := svc.ProcessJob(context.Background(), testJob(`{"prompt":"first"}`))
	require.Error(t, err)
	require.Equal(t, resilience.BreakerOpen, svc.BreakerState())

	_, err = svc.ProcessJob(context.Background(), testJob(`{"prompt":"second"}`))
	require.Error(t, err)

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "SERVICE_UNAVAILABLE", pe.Code)
	assert.ErrorIs(t, err, resilience.ErrBreakerOpen)
	// The gated call never reached the provider.
	assert.Equal(t, 1, gen.callCount())
	// Gate rejections are retryable: the job requeues and waits out the reset.
	assert.True(t, resilience.IsRetryable(err))
}

func TestProcessJobRateLimited(t *testing.T) {
	policies := testPolicies()
	policies.Defaults.RateLimit = resilience.RateLimitConfig{Window: time.Minute, MaxRequests: 1}
	gen := &fakeGenerator{}
	svc := New(gen, "testProvider", policies, zerolog.Nop())

	_, err := svc.ProcessJob(context.Background(), testJob(`{"prompt":"first"}`))
	require.NoError(t, err)

	_, err = svc.ProcessJob(context.Background(), testJob(`{"prompt":"second"}`))
	require.Error(t, err)

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "RATE_LIMITED", pe.Code)
	assert.Equal(t, 429, pe.StatusCode)
	assert.True(t, resilience.IsRetryable(err))
	assert.Equal(t, 1, gen.callCount())
	// A limiter rejection must not count against the breaker.
	assert.Equal(t, resilience.BreakerClosed, svc.BreakerState())
}

func TestProcessJobTimeout(t *testing.T) {
	policies := testPolicies()
	policies.Defaults.Timeout = 20 * time.Millisecond
	gen := &fakeGenerator{fn: func(ctx context.Context, _ nanobanana.GenerateRequest) (*nanobanana.Generation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := New(gen, "testProvider", policies, zerolog.Nop())

	_, err := svc.ProcessJob(context.Background(), testJob(`{"prompt":"slow"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, resilience.IsRetryable(err))
}

func TestShutdownAbortsInFlightCall(t *testing.T) {
	started := make(chan struct{})
	gen := &fakeGenerator{fn: func(ctx context.Context, _ nanobanana.GenerateRequest) (*nanobanana.Generation, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := New(gen, "testProvider", testPolicies(), zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := svc.ProcessJob(context.Background(), testJob(`{"prompt":"slow"}`))
		done <- err
	}()

	<-started
	require.NoError(t, svc.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
	case <-time.After(time.Second):
		t.Fatal("in-flight call survived shutdown")
	}
}
