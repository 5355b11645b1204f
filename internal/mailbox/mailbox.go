// Package mailbox provides an unbounded message queue for handing events
// between goroutines. Posting never blocks, so producers on latency sensitive
// paths (the mixer tick, decode workers) cannot be stalled by a slow consumer.
package mailbox

import (
	"context"
	"sync"
)

// Mailbox is an unbounded multi-producer, single-consumer queue.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	notify chan struct{} // capacity 1, coalesced wakeups
	done   chan struct{}
}

// New creates an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post appends v. It returns false if the mailbox is closed.
func (m *Mailbox[T]) Post(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.wake()
	return true
}

// PostAll appends every value of vs in order.
func (m *Mailbox[T]) PostAll(vs []T) bool {
	if len(vs) == 0 {
		return true
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, vs...)
	m.mu.Unlock()

	m.wake()
	return true
}

func (m *Mailbox[T]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
		// A wakeup is already pending
	}
}

// TryNext pops the oldest message without waiting.
func (m *Mailbox[T]) TryNext() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	if len(m.items) == 0 {
		m.items = nil
	}
	return v, true
}

// Next blocks until a message is available, the context is done, or the
// mailbox is closed and drained. ok is false in the last two cases.
func (m *Mailbox[T]) Next(ctx context.Context) (v T, ok bool) {
	for {
		if v, ok = m.TryNext(); ok {
			return v, true
		}
		select {
		case <-m.notify:
		case <-m.done:
			// Deliver whatever was posted before Close.
			return m.TryNext()
		case <-ctx.Done():
			return v, false
		}
	}
}

// Drain removes and returns all pending messages.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}

// Len returns the number of pending messages.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops accepting messages. Pending messages can still be received.
// Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Done is closed once Close has been called.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}
