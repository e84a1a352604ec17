package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrQueueUnavailable = errors.New("queue unavailable")
	ErrProviderFailure  = errors.New("provider failure")
)

// ProviderError is the classified shape of a failed provider call. Code
// carries a transport-level tag (ECONNRESET, ETIMEDOUT, RATE_LIMITED, ...)
// and StatusCode the HTTP status when the provider answered at all. The
// resilience classifiers consume both.
type ProviderError struct {
	Code       string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	case e.StatusCode != 0:
		return fmt.Sprintf("provider status %d", e.StatusCode)
	}
	return "provider error"
}

func (e *ProviderError) Unwrap() error { return e.Err }
