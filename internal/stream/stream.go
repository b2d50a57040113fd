// Package stream fan-outs engine notification events to in-process
// subscribers (the SSE feed consumed by ops dashboards). It is the default
// Notifier wired into the engine; real delivery transports subscribe to it.
package stream

import (
	"context"
	"sync"

	"refnet.org/internal/engine"
)

// Hub fan-outs notification events to all active subscribers. Publishing
// never blocks: a subscriber that falls behind loses events rather than
// stalling the financial path that produced them.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan engine.Event
	next int
}

var _ engine.Notifier = (*Hub)(nil)

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan engine.Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan engine.Event {
	ch := make(chan engine.Event, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Notify implements engine.Notifier by fanning the event out.
func (h *Hub) Notify(ctx context.Context, evt engine.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop instead of blocking the publisher.
		}
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
