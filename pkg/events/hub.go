// Package events fans a job's progress out to SSE subscribers,
// websocket subscribers, and webhook endpoints.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

// Event types. Terminal types end every subscription on the job.
const (
	TypeStart     = "start"
	TypeProgress  = "progress"
	TypeComplete  = "complete"
	TypeError     = "error"
	TypeCancelled = "cancelled"
)

// Event is one progress or terminal notification for a job.
type Event struct {
	JobID      uuid.UUID `json:"job_id"`
	Type       string    `json:"event"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Stage      string    `json:"stage,omitempty"`
	FPS        *float64  `json:"fps,omitempty"`
	ETASeconds *int      `json:"eta_seconds,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends the job's stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeComplete, TypeError, TypeCancelled:
		return true
	}
	return false
}

// TerminalEventType maps a terminal job status to its event type.
func TerminalEventType(status jobstore.JobStatus) string {
	switch status {
	case jobstore.StatusCompleted:
		return TypeComplete
	case jobstore.StatusFailed:
		return TypeError
	case jobstore.StatusCancelled:
		return TypeCancelled
	}
	return ""
}

// subscriberBuffer bounds each subscriber channel. Slow subscribers
// lose intermediate progress events, never the terminal one.
const subscriberBuffer = 16

type subscriber struct {
	ch chan Event
}

// Hub is an in-memory per-job broadcast. Safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	subs     map[uuid.UUID]map[*subscriber]struct{}
	terminal map[uuid.UUID]Event
}

func NewHub() *Hub {
	return &Hub{
		subs:     make(map[uuid.UUID]map[*subscriber]struct{}),
		terminal: make(map[uuid.UUID]Event),
	}
}

// Subscribe registers for a job's events. If the job already reached a
// terminal state through this hub, the channel delivers that terminal
// event immediately and closes. The returned func unsubscribes; it is
// safe to call after the channel closed.
func (h *Hub) Subscribe(jobID uuid.UUID) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if term, ok := h.terminal[jobID]; ok {
		ch := make(chan Event, 1)
		ch <- term
		close(ch)
		return ch, func() {}
	}

	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*subscriber]struct{})
	}
	h.subs[jobID][sub] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[jobID]; ok {
			if _, live := set[sub]; live {
				delete(set, sub)
				close(sub.ch)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish broadcasts an event to the job's subscribers. A terminal
// event closes every subscription; later events for the job, terminal
// or not, are dropped so each stream carries exactly one terminal.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.terminal[event.JobID]; done {
		return
	}

	for sub := range h.subs[event.JobID] {
		select {
		case sub.ch <- event:
		default:
			if event.Terminal() {
				// Make room so the terminal event always lands.
				select {
				case <-sub.ch:
				default:
				}
				sub.ch <- event
			}
		}
	}

	if event.Terminal() {
		h.terminal[event.JobID] = event
		for sub := range h.subs[event.JobID] {
			close(sub.ch)
		}
		delete(h.subs, event.JobID)
	}
}

// Forget drops the retained terminal event for a job. Called by
// retention cleanup so the map does not grow unbounded.
func (h *Hub) Forget(jobID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.terminal, jobID)
}

// SubscriberCount reports live subscriptions on a job, for metrics.
func (h *Hub) SubscriberCount(jobID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
