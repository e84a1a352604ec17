package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genqueue/internal/domain"
)

func testBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	b := NewBreaker(cfg)
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func trippingErr() error {
	return &domain.ProviderError{StatusCode: 503, Message: "upstream down"}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{
		FailureThreshold:  3,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 3,
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.Record(trippingErr())
		assert.Equal(t, BreakerClosed, b.State())
	}
	require.NoError(t, b.Allow())
	b.Record(trippingErr())
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerRespectsMinimumThroughput(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{
		FailureThreshold:  2,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 10,
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Allow())
		b.Record(trippingErr())
	}
	// Five straight failures, but below the throughput floor.
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerNonTrippingErrorsDoNotOpen(t *testing.T) {
	b, _ := testBreaker(BreakerConfig{
		FailureThreshold:  2,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 1,
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Allow())
		b.Record(&domain.ProviderError{StatusCode: 404, Message: "missing"})
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	b, now := testBreaker(BreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 1,
	})

	require.NoError(t, b.Allow())
	b.Record(trippingErr())
	require.Equal(t, BreakerOpen, b.State())

	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	// Only one probe at a time.
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b, now := testBreaker(BreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 1,
	})

	require.NoError(t, b.Allow())
	b.Record(trippingErr())
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(trippingErr())

	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreakerCancelReturnsProbeSlot(t *testing.T) {
	b, now := testBreaker(BreakerConfig{
		FailureThreshold:  1,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 1,
	})

	require.NoError(t, b.Allow())
	b.Record(trippingErr())
	*now = now.Add(31 * time.Second)
	require.NoError(t, b.Allow())

	b.Cancel()
	// The returned slot admits the next probe.
	assert.NoError(t, b.Allow())
}

func TestBreakerPrunesOldFailures(t *testing.T) {
	b, now := testBreaker(BreakerConfig{
		FailureThreshold:  3,
		ResetTimeout:      30 * time.Second,
		MonitoringPeriod:  time.Minute,
		MinimumThroughput: 1,
	})

	require.NoError(t, b.Allow())
	b.Record(trippingErr())
	require.NoError(t, b.Allow())
	b.Record(trippingErr())

	// Failures age out of the monitoring window before the third lands.
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Record(trippingErr())
	assert.Equal(t, BreakerClosed, b.State())
}
