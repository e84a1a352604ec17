package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(cfg RateLimitConfig) (*Limiter, *time.Time) {
	l := NewLimiter(cfg)
	now := time.Unix(1700000000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterEnforcesWindowCap(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 3})

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow())
	}
	assert.False(t, l.Allow())
}

func TestLimiterWindowSlides(t *testing.T) {
	l, now := testLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 2})

	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())

	*now = now.Add(61 * time.Second)
	assert.True(t, l.Allow())
}

func TestLimiterSkipSuccessfulReleasesSlot(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 1, SkipSuccessful: true})

	require.True(t, l.Allow())
	l.Record(true)
	assert.True(t, l.Allow())
}

func TestLimiterSkipFailedReleasesSlot(t *testing.T) {
	l, _ := testLimiter(RateLimitConfig{Window: time.Minute, MaxRequests: 1, SkipFailed: true})

	require.True(t, l.Allow())
	l.Record(false)
	assert.True(t, l.Allow())

	// A success still holds its slot under skip-failed.
	l.Record(true)
	assert.False(t, l.Allow())
}

func TestLimiterUnlimitedWhenZero(t *testing.T) {
	l := NewLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
}
