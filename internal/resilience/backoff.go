package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry attempt n (1-based): exponential in
// the attempt number, jittered by JitterFactor, capped at MaxDelay. The
// worker stamps this onto a requeued job as its not-before time.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(cfg.BaseDelay)
	if base <= 0 {
		base = float64(time.Second)
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt-1))
	maxDelay := float64(cfg.MaxDelay)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if cfg.JitterFactor > 0 {
		jitter := delay * cfg.JitterFactor
		delay = delay - jitter + rand.Float64()*2*jitter
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
