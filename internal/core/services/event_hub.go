package services

import (
	"sync"

	"lobbysignal/internal/core/domain"
)

// EventHub fans peer events out to registered observers. Observers run
// synchronously on the publishing goroutine, in registration order: presence
// events arrive on the poll goroutine in mailbox order, connection and data
// events on the transport's callback goroutine.
type EventHub struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]func(domain.PeerEvent)
	order     []int
}

// NewEventHub returns a hub with no observers.
func NewEventHub() *EventHub {
	return &EventHub{observers: make(map[int]func(domain.PeerEvent))}
}

// Subscribe registers fn and returns a function that removes it.
func (h *EventHub) Subscribe(fn func(domain.PeerEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.observers[id] = fn
	h.order = append(h.order, id)

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.observers, id)
		for i, v := range h.order {
			if v == id {
				h.order = append(h.order[:i:i], h.order[i+1:]...)
				break
			}
		}
	}
}

// Publish calls every observer with event. Observers may subscribe or
// unsubscribe from inside the callback; the change applies to the next event.
func (h *EventHub) Publish(event domain.PeerEvent) {
	h.mu.RLock()
	fns := make([]func(domain.PeerEvent), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.observers[id])
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
