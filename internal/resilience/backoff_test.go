package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffExponentialWithoutJitter(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}

	assert.Equal(t, time.Second, Backoff(cfg, 1))
	assert.Equal(t, 2*time.Second, Backoff(cfg, 2))
	assert.Equal(t, 4*time.Second, Backoff(cfg, 3))
	assert.Equal(t, 8*time.Second, Backoff(cfg, 4))
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:         time.Second,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
	}

	assert.Equal(t, 5*time.Second, Backoff(cfg, 10))
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
		JitterFactor:      0.25,
	}

	for i := 0; i < 200; i++ {
		d := Backoff(cfg, 3) // nominal 4s, jitter ±1s
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestBackoffAttemptFloorsAtOne(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, BackoffMultiplier: 2}

	assert.Equal(t, Backoff(cfg, 1), Backoff(cfg, 0))
	assert.Equal(t, Backoff(cfg, 1), Backoff(cfg, -3))
}
