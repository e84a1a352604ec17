package resilience

import (
	"sync"
	"time"
)

// Limiter is a sliding-window request limiter for one endpoint. Allow
// reserves a slot; Record settles it once the call's outcome is known, so
// that SkipSuccessful/SkipFailed accounting can release slots retroactively.
//
// Safe for concurrent use.
type Limiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu     sync.Mutex
	stamps []time.Time
}

// NewLimiter builds a limiter with the given policy.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	return &Limiter{cfg: cfg, now: time.Now}
}

// Allow reports whether another request fits in the current window and, if
// so, reserves a slot for it.
func (l *Limiter) Allow() bool {
	if l.cfg.MaxRequests <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.stamps = pruneBefore(l.stamps, now.Add(-l.cfg.Window))
	if len(l.stamps) >= l.cfg.MaxRequests {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// Record settles the most recent reservation. When the policy skips
// successful (or failed) requests, the matching outcome releases the slot.
func (l *Limiter) Record(success bool) {
	if l.cfg.MaxRequests <= 0 {
		return
	}
	release := (success && l.cfg.SkipSuccessful) || (!success && l.cfg.SkipFailed)
	if !release {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.stamps); n > 0 {
		l.stamps = l.stamps[:n-1]
	}
}

// InFlight returns the number of reserved slots still inside the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = pruneBefore(l.stamps, l.now().Add(-l.cfg.Window))
	return len(l.stamps)
}
