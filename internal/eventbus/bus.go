// Package eventbus fans typed events out to callback subscribers
package eventbus

import (
	"sync"
)

// Bus delivers every published event to the current subscribers, in
// subscription order, on the publisher's goroutine
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]func(T)
	order  []uint64
	next   uint64
	closed bool
}

// New creates an empty bus
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn. The returned cancel func is safe to call more than once.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish calls every subscriber with evt. Handlers run outside the lock so
// they may unsubscribe themselves.
func (b *Bus[T]) Publish(evt T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}

// Len returns the number of active subscribers
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscribers; later publishes are ignored
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[uint64]func(T))
	b.order = nil
}
