package broadcast

import (
	"sync"

	"leavetrack/internal/metrics"
)

// defaultBuffer bounds each subscriber's pending events. A subscriber that
// falls this far behind starts losing events rather than stalling publishers.
const defaultBuffer = 32

// Subscription is one session's membership on a school channel. Events
// arrive on C until Unsubscribe closes it.
type Subscription struct {
	SessionID string
	SchoolID  string
	C         <-chan Event

	ch chan Event
}

// Hub fans events out to supervisor sessions grouped by school. Membership is
// ephemeral: it exists only while the session holds its Subscription.
//
// Publish never blocks. Delivery is best-effort, at-most-once per connected
// subscriber; per-subject ordering is preserved because the pipeline publishes
// a subject's samples sequentially and each subscriber drains a single FIFO
// channel.
type Hub struct {
	mu      sync.RWMutex
	schools map[string]map[string]*Subscription // schoolID -> sessionID -> sub
	buffer  int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		schools: make(map[string]map[string]*Subscription),
		buffer:  defaultBuffer,
	}
}

// Subscribe joins a session to a school channel. A second Subscribe with the
// same session id replaces the previous membership.
func (h *Hub) Subscribe(sessionID, schoolID string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{SessionID: sessionID, SchoolID: schoolID, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.schools[schoolID]
	if !ok {
		sessions = make(map[string]*Subscription)
		h.schools[schoolID] = sessions
	}
	if prev, ok := sessions[sessionID]; ok {
		close(prev.ch)
	} else {
		metrics.Subscribers.Inc()
	}
	sessions[sessionID] = sub
	return sub
}

// Unsubscribe removes a session and closes its event channel. Safe to call
// for sessions that were never subscribed.
func (h *Hub) Unsubscribe(sessionID, schoolID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.schools[schoolID]
	if !ok {
		return
	}
	sub, ok := sessions[sessionID]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(h.schools, schoolID)
	}
	close(sub.ch)
	metrics.Subscribers.Dec()
}

// Publish delivers ev to every current subscriber of schoolID. Slow
// subscribers lose the event instead of blocking the caller.
func (h *Hub) Publish(schoolID string, ev Event) {
	metrics.EventsPublished.WithLabelValues(ev.Kind).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.schools[schoolID] {
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// SubscriberCount reports current membership for a school.
func (h *Hub) SubscriberCount(schoolID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.schools[schoolID])
}
