// Package broadcast implements a synchronous in-process fan-out channel.
package broadcast

import "sync"

// Broadcaster delivers each published value to every current subscriber, in
// subscription order, on the publishing goroutine. Nothing is buffered: a
// value published with no subscribers is dropped. Handlers must not publish
// on the Broadcaster that is calling them.
type Broadcaster[T any] struct {
	// pubMu serializes publishes so one fan-out never interleaves with
	// another.
	pubMu sync.Mutex

	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// New creates an empty Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is idempotent and may be called from inside a handler.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// Copy rather than reslice in place: a publish in progress may be
			// iterating the old slice.
			next := make([]subscriber[T], 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every subscriber with v.
func (b *Broadcaster[T]) Publish(v T) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of current subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
