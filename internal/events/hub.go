// Package events implements the feed-update broadcast hub. Delivery is
// best-effort: observers that are not draining their channel miss events.
package events

import "sync"

// Event signals that a feed's state changed and observers should refetch.
type Event struct {
	Type   string `json:"type"`
	FeedID int64  `json:"feed_id,omitempty"`
}

// FeedUpdate is the event type emitted on new articles, pause toggles,
// and deletions.
const FeedUpdate = "feed-update"

// Hub fans events out to subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers an observer. The returned cancel function must be
// called to release the subscription.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish broadcasts an event to all subscribers without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
