// Package hub implements the process-wide broadcast stream every connection
// publishes to and drains from.
package hub

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of pending items a subscription buffers
// before it starts losing the oldest ones.
const DefaultCapacity = 100

var (
	// ErrNoSubscribers is returned by Publish when nobody is listening.
	ErrNoSubscribers = errors.New("hub: no subscribers")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("hub: closed")
)

// Hub fans every published item out to all live subscriptions. Publishes are
// serialized, so every subscription observes the same relative order.
//
// A subscription that falls behind by more than the hub capacity loses its
// oldest pending items; publishers never block on slow consumers.
type Hub struct {
	mu       sync.Mutex
	capacity int
	subs     map[uint64]*Subscription
	nextID   uint64
	closed   bool
}

// New creates a hub whose subscriptions buffer up to capacity items.
// A capacity below one is treated as one.
func New(capacity int) *Hub {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}
}

// Capacity returns the per-subscription buffer size.
func (h *Hub) Capacity() int {
	return h.capacity
}

// Subscribe registers a new subscription. It only receives items published
// after this call returns. Subscribing to a closed hub yields a subscription
// whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		hub: h,
		ch:  make(chan string, h.capacity),
	}
	if h.closed {
		close(sub.ch)
		return sub
	}

	sub.id = h.nextID
	h.nextID++
	h.subs[sub.id] = sub
	return sub
}

// Publish enqueues text for every live subscription and returns how many
// received it. It never blocks on a subscriber.
func (h *Hub) Publish(text string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}
	if len(h.subs) == 0 {
		return 0, ErrNoSubscribers
	}

	for _, sub := range h.subs {
		sub.deliver(text)
	}
	return len(h.subs), nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close releases every subscription and closes its channel. Items already
// buffered can still be received before the channel reports closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.subs[sub.id]; !ok || cur != sub {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	hub    *Hub
	id     uint64
	ch     chan string
	lagged atomic.Uint64
}

// C returns the channel items are delivered on. It is closed when the
// subscription or the hub is closed.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// Lagged returns how many items were dropped because this subscription fell
// behind, and resets the counter.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Swap(0)
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// deliver must be called with the hub lock held, which makes the hub the only
// sender and guarantees a slot frees up after dropping the oldest item.
func (s *Subscription) deliver(text string) {
	for {
		select {
		case s.ch <- text:
			return
		default:
		}

		select {
		case <-s.ch:
			s.lagged.Add(1)
		default:
		}
	}
}
