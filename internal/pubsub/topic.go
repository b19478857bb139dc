// Package pubsub provides a latest-value topic that delivers the current
// materialized view to every subscriber on each change.
package pubsub

import (
	"context"
	"sync"
)

// Topic holds the most recent value published to it. A new subscriber first
// receives the current value, then every subsequent one. Subscribers that
// fall behind only ever see the newest value; publishers never block.
type Topic[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[chan T]struct{}
	done   chan struct{}
	closed bool
}

func NewTopic[T any](initial T) *Topic[T] {
	return &Topic[T]{
		value: initial,
		subs:  make(map[chan T]struct{}),
		done:  make(chan struct{}),
	}
}

// Publish replaces the current value and fans it out to all subscribers.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.value = v
	for ch := range t.subs {
		offer(ch, v)
	}
}

func (t *Topic[T]) Current() T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Subscribe returns a channel that yields the current value immediately and
// each later value until ctx is done or the topic is closed, at which point
// the channel is closed.
func (t *Topic[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- t.value
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			t.unsubscribe(ch)
		case <-t.done:
		}
	}()

	return ch
}

func (t *Topic[T]) unsubscribe(ch chan T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[ch]; ok {
		delete(t.subs, ch)
		close(ch)
	}
}

// Len returns the number of live subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close closes every subscriber channel. Publishing to a closed topic is a
// no-op.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	t.closed = true
	close(t.done)
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}

// Project subscribes to t and maps every delivered value through fn. The
// returned channel keeps the latest-value semantics of the topic and closes
// when the underlying subscription ends.
func Project[T, U any](ctx context.Context, t *Topic[T], fn func(T) U) <-chan U {
	in := t.Subscribe(ctx)
	out := make(chan U, 1)

	go func() {
		defer close(out)
		for v := range in {
			offer(out, fn(v))
		}
	}()

	return out
}

// offer replaces any undelivered value in ch with v. The caller must be the
// only sender on ch.
func offer[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	ch <- v
}
