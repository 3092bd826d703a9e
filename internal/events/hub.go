// Package events fans out audit and lifecycle events to in-process subscribers.
package events

import "sync"

// Hub delivers each published value to every subscriber, synchronously and in subscription order.
type Hub[T any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// NewHub returns an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.handlers = append(h.handlers, subscription[T]{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		for i, s := range h.handlers {
			if s.id == id {
				h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every handler with v. Handlers run outside the hub lock and may subscribe or unsubscribe.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	handlers := make([]subscription[T], len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.RUnlock()

	for _, s := range handlers {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.handlers)
}
