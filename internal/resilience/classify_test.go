package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"genqueue/internal/domain"
)

func TestIsRetryableNilError(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}

func TestIsRetryableByStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{408, true},
		{429, true},
		{502, true},
		{503, true},
		{504, true},
		{520, true},
		{524, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{422, false},
		{500, false},
		{525, false},
	}
	for _, tt := range tests {
		err := &domain.ProviderError{StatusCode: tt.status, Message: "status check"}
		assert.Equalf(t, tt.want, IsRetryable(err), "status %d", tt.status)
	}
}

func TestIsRetryableByCode(t *testing.T) {
	for _, code := range []string{
		"ECONNRESET", "ENOTFOUND", "ECONNREFUSED", "ETIMEDOUT",
		"NETWORK_ERROR", "SERVICE_UNAVAILABLE", "RATE_LIMITED", "TEMPORARY_FAILURE",
	} {
		err := &domain.ProviderError{Code: code, Message: "code check"}
		assert.Truef(t, IsRetryable(err), "code %s", code)
	}
	assert.False(t, IsRetryable(&domain.ProviderError{Code: "INVALID_PAYLOAD", Message: "bad input"}))
}

func TestIsRetryableByMessageKeyword(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("upstream Connection dropped")))
	assert.True(t, IsRetryable(errors.New("Rate Limit reached, slow down")))
	assert.True(t, IsRetryable(errors.New("service temporarily Unavailable")))
	assert.False(t, IsRetryable(errors.New("invalid prompt")))
}

func TestIsRetryableDeadlineExceeded(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(fmt.Errorf("provider call: %w", context.DeadlineExceeded)))
}

func TestIsBreakerTrippingNil(t *testing.T) {
	assert.False(t, IsBreakerTripping(nil))
}

func TestIsBreakerTrippingIncludesRetryable(t *testing.T) {
	assert.True(t, IsBreakerTripping(&domain.ProviderError{StatusCode: 503, Message: "down"}))
}

func TestIsBreakerTrippingAuthFailures(t *testing.T) {
	// Auth failures are never retried blindly, but repeated ones must
	// still open the breaker.
	for _, status := range []int{401, 403} {
		err := &domain.ProviderError{StatusCode: status, Message: "auth check"}
		assert.Truef(t, IsBreakerTripping(err), "status %d", status)
		assert.Falsef(t, IsRetryable(err), "status %d", status)
	}
}

func TestIsBreakerTrippingServerErrors(t *testing.T) {
	for _, status := range []int{500, 511, 599} {
		err := &domain.ProviderError{StatusCode: status, Message: "server check"}
		assert.Truef(t, IsBreakerTripping(err), "status %d", status)
	}
	assert.False(t, IsBreakerTripping(&domain.ProviderError{StatusCode: 404, Message: "missing"}))
}

func TestIsBreakerTrippingQuota(t *testing.T) {
	assert.True(t, IsBreakerTripping(&domain.ProviderError{Code: "QUOTA_EXCEEDED", Message: "plan exhausted"}))
	assert.True(t, IsBreakerTripping(errors.New("monthly quota used up")))
	assert.False(t, IsBreakerTripping(errors.New("invalid prompt")))
}
