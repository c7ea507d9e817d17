package notifier

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inbox-triage-go/internal/metrics"
)

// Subscriber is one consumer of a user's event stream. Events arrive on C;
// the channel is closed when the subscriber is removed from the hub.
type Subscriber struct {
	ID     string
	UserID string
	C      chan Event
}

// Hub fans sync and categorization events out to per-user subscribers.
// Publishing never blocks: a subscriber whose buffer is full loses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscriber
	buffer      int
	maxPerUser  int
}

// NewHub creates a hub. buffer is the per-subscriber channel capacity and
// maxPerUser caps simultaneous subscribers for one user.
func NewHub(buffer, maxPerUser int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if maxPerUser <= 0 {
		maxPerUser = 10
	}
	return &Hub{
		subscribers: make(map[string]map[string]*Subscriber),
		buffer:      buffer,
		maxPerUser:  maxPerUser,
	}
}

// Subscribe registers a new subscriber for the user. When the user already
// holds the maximum number of subscriptions, one existing subscription is
// evicted to make room.
func (h *Hub) Subscribe(userID string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New().String(),
		UserID: userID,
		C:      make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	byUser := h.subscribers[userID]
	if byUser == nil {
		byUser = make(map[string]*Subscriber)
		h.subscribers[userID] = byUser
	}

	if len(byUser) >= h.maxPerUser {
		for id, old := range byUser {
			delete(byUser, id)
			close(old.C)
			metrics.ActiveSubscribers.Dec()
			logrus.WithFields(logrus.Fields{
				"user_id":       userID,
				"subscriber_id": id,
			}).Warn("Evicted subscriber over per-user limit")
			break
		}
	}

	byUser[sub.ID] = sub
	metrics.ActiveSubscribers.Inc()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Calling it for an
// already removed subscriber is harmless.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byUser := h.subscribers[sub.UserID]
	if byUser == nil {
		return
	}
	if _, ok := byUser[sub.ID]; !ok {
		return
	}

	delete(byUser, sub.ID)
	if len(byUser) == 0 {
		delete(h.subscribers, sub.UserID)
	}
	close(sub.C)
	metrics.ActiveSubscribers.Dec()
}

// Publish delivers an event to every subscriber of the user. Slow subscribers
// are skipped rather than blocking the sync pipeline.
func (h *Hub) Publish(userID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[userID] {
		select {
		case sub.C <- event:
		default:
			metrics.EventsDropped.Inc()
			logrus.WithFields(logrus.Fields{
				"user_id":       userID,
				"subscriber_id": sub.ID,
				"event_type":    event.Type,
			}).Warn("Dropped event for slow subscriber")
		}
	}
}

// SubscriberCount returns the number of live subscribers for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
