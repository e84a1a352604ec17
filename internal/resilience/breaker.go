package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Breaker.Allow while the endpoint is gated.
var ErrBreakerOpen = errors.New("resilience: circuit breaker open")

// BreakerState enumerates the breaker's gate positions.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker gates calls to one endpoint. Failures that satisfy
// IsBreakerTripping within the monitoring period open the gate once both the
// failure threshold and the minimum throughput are reached; after the reset
// timeout a single half-open probe decides whether to close again.
//
// Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	requests []time.Time
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// NewBreaker builds a closed breaker with the given policy.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrBreakerOpen until the reset timeout elapses, then admits exactly one
// half-open probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	default: // half-open
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
}

// Record feeds the outcome of a call back into the breaker. A nil error in
// the half-open state closes the gate; a tripping error re-opens it.
func (b *Breaker) Record(err error) {
	tripping := err != nil && IsBreakerTripping(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case BreakerHalfOpen:
		b.probing = false
		if err == nil {
			b.reset()
			return
		}
		if tripping {
			b.open(now)
		}
	case BreakerClosed:
		b.prune(now)
		b.requests = append(b.requests, now)
		if tripping {
			b.failures = append(b.failures, now)
		}
		if len(b.requests) >= b.cfg.MinimumThroughput && len(b.failures) >= b.cfg.FailureThreshold {
			b.open(now)
		}
	case BreakerOpen:
		// Late results from calls admitted before opening; ignored.
	}
}

// Cancel returns an admitted-but-unused slot: the caller got a nil from
// Allow but never made the call. Without this a half-open probe slot would
// leak and keep the gate stuck.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.probing = false
	}
}

// State returns the current gate position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open(now time.Time) {
	b.state = BreakerOpen
	b.openedAt = now
	b.requests = nil
	b.failures = nil
	b.probing = false
}

func (b *Breaker) reset() {
	b.state = BreakerClosed
	b.requests = nil
	b.failures = nil
	b.probing = false
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringPeriod)
	b.requests = pruneBefore(b.requests, cutoff)
	b.failures = pruneBefore(b.failures, cutoff)
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(cutoff) {
		idx++
	}
	return stamps[idx:]
}
