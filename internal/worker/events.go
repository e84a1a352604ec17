package worker

import (
	"sync"
	"time"

	"genqueue/internal/domain"
)

// EventType names the lifecycle events the worker emits.
type EventType string

const (
	EventJobStarted    EventType = "jobStarted"
	EventJobCompleted  EventType = "jobCompleted"
	EventJobFailed     EventType = "jobFailed"
	EventHealthCheck   EventType = "healthCheck"
	EventUncaughtError EventType = "uncaughtError"
)

// Event is one lifecycle notification. Only the fields relevant to the event
// type are set.
type Event struct {
	Type           EventType                `json:"type"`
	JobID          string                   `json:"job_id,omitempty"`
	Job            *domain.Job              `json:"job,omitempty"`
	Result         *domain.GenerationResult `json:"result,omitempty"`
	Error          *domain.JobError         `json:"error,omitempty"`
	Health         *Health                  `json:"health,omitempty"`
	Metrics        *Metrics                 `json:"metrics,omitempty"`
	ProcessingTime time.Duration            `json:"processing_time_ms,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses events rather than stalling the worker.
const subscriberBuffer = 64

type hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

// subscribe registers a consumer. The returned cancel func closes the channel
// and must be called exactly once.
func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish fans the event out without blocking; full subscribers are skipped.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
