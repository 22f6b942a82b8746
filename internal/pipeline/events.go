package pipeline

import (
	"sync"

	"arbiter/internal/jobs"
)

// Event is one job progress update pushed to subscribers.
type Event struct {
	JobID    string
	Status   jobs.Status
	Percent  float64
	Message  string
	Terminal bool
}

type subscriber struct {
	jobID string
	ch    chan Event
}

// Hub fans job events out to subscribers. Slow subscribers drop events
// rather than stall the pipeline.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]subscriber
}

// NewHub constructs an event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers for events; an empty jobID receives every job's events.
// The returned cancel function must be called to release the subscription.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, 16)
	h.subs[id] = subscriber{jobID: jobID, ch: ch}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
}

// Publish delivers an event to every matching subscriber without blocking.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}
