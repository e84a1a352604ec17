package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"genqueue/internal/domain"
)

var retryableCodes = map[string]struct{}{
	"ECONNRESET":          {},
	"ENOTFOUND":           {},
	"ECONNREFUSED":        {},
	"ETIMEDOUT":           {},
	"NETWORK_ERROR":       {},
	"SERVICE_UNAVAILABLE": {},
	"RATE_LIMITED":        {},
	"TEMPORARY_FAILURE":   {},
}

var retryableStatuses = map[int]struct{}{
	408: {},
	429: {},
	502: {},
	503: {},
	504: {},
}

var retryableKeywords = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"rate limit",
	"unavailable",
}

var quotaKeywords = []string{"quota", "limit exceeded"}

// IsRetryable reports whether a failure is likely transient and worth an
// automatic requeue. Validation failures and 4xx statuses outside the fixed
// retryable set are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if code := codeOf(err); code != "" {
		if _, ok := retryableCodes[code]; ok {
			return true
		}
	}
	if status := statusOf(err); status != 0 {
		if _, ok := retryableStatuses[status]; ok {
			return true
		}
		// Cloudflare-style edge proxy range.
		if status >= 520 && status <= 524 {
			return true
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return containsAny(err.Error(), retryableKeywords)
}

// IsBreakerTripping reports whether a failure counts as evidence the endpoint
// is unhealthy. Intentionally broader than IsRetryable: a 401 should never be
// retried blindly, but repeated 401s against one endpoint should still open
// the breaker to stop hammering a misconfigured credential.
func IsBreakerTripping(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	status := statusOf(err)
	switch status {
	case 401, 403, 429:
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	if code := codeOf(err); code == "QUOTA_EXCEEDED" {
		return true
	}
	return containsAny(err.Error(), quotaKeywords)
}

func codeOf(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func statusOf(err error) int {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func containsAny(msg string, keywords []string) bool {
	msg = strings.ToLower(msg)
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
