// Package resilience holds the policy engine governing calls to external
// generation providers: per-endpoint retry, circuit-breaker and rate-limit
// parameters, plus the error classifiers the worker and processor share.
package resilience

import "time"

// RetryConfig bounds automatic retry for one endpoint.
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
}

// BreakerConfig parameterizes the circuit breaker guarding one endpoint.
type BreakerConfig struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	MonitoringPeriod  time.Duration
	MinimumThroughput int
}

// RateLimitConfig bounds outbound request volume for one endpoint.
type RateLimitConfig struct {
	Window         time.Duration
	MaxRequests    int
	SkipSuccessful bool
	SkipFailed     bool
}

// EndpointConfig is the fully resolved policy for one endpoint. Immutable
// once returned by Config.Endpoint.
type EndpointConfig struct {
	Name      string
	Retry     RetryConfig
	Breaker   BreakerConfig
	RateLimit RateLimitConfig
	Timeout   time.Duration
}

// EndpointOverride overrides whole sections of the defaults. A nil section
// keeps the default; a present section replaces it. The retry, breaker,
// rate-limit and timeout sections are each independently overridable.
type EndpointOverride struct {
	Retry     *RetryConfig
	Breaker   *BreakerConfig
	RateLimit *RateLimitConfig
	Timeout   *time.Duration
}

// Config is the process-wide resilience policy: one set of defaults plus
// named endpoint overrides.
type Config struct {
	Defaults  EndpointConfig
	Endpoints map[string]EndpointOverride
}

// DefaultConfig returns the built-in policy. The nanoBanana endpoint is the
// slow image-generation path and gets a deeper retry budget and a two-minute
// call timeout.
func DefaultConfig() Config {
	return Config{
		Defaults: EndpointConfig{
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
				JitterFactor:      0.2,
			},
			Breaker: BreakerConfig{
				FailureThreshold:  5,
				ResetTimeout:      30 * time.Second,
				MonitoringPeriod:  time.Minute,
				MinimumThroughput: 5,
			},
			RateLimit: RateLimitConfig{
				Window:      time.Minute,
				MaxRequests: 60,
			},
			Timeout: 30 * time.Second,
		},
		Endpoints: map[string]EndpointOverride{
			"nanoBanana": {
				Retry: &RetryConfig{
					MaxAttempts:       5,
					BaseDelay:         2 * time.Second,
					MaxDelay:          time.Minute,
					BackoffMultiplier: 2,
					JitterFactor:      0.2,
				},
				RateLimit: &RateLimitConfig{
					Window:      time.Minute,
					MaxRequests: 30,
				},
				Timeout: durationPtr(120 * time.Second),
			},
		},
	}
}

// Endpoint resolves the policy for a named endpoint, merging its override
// section-by-section over the defaults. Unknown names resolve to exactly the
// defaults. Never fails.
func (c Config) Endpoint(name string) EndpointConfig {
	resolved := c.Defaults
	resolved.Name = name
	override, ok := c.Endpoints[name]
	if !ok {
		return resolved
	}
	if override.Retry != nil {
		resolved.Retry = *override.Retry
	}
	if override.Breaker != nil {
		resolved.Breaker = *override.Breaker
	}
	if override.RateLimit != nil {
		resolved.RateLimit = *override.RateLimit
	}
	if override.Timeout != nil {
		resolved.Timeout = *override.Timeout
	}
	return resolved
}

func durationPtr(d time.Duration) *time.Duration { return &d }
