// Package broker carries change notifications from the façade and the
// executor to the scheduler loop.
//
// Each Broker is an unbounded typed mailbox. All brokers of a Hub share one
// Signal, a one-slot channel the loop selects on. Notify enqueues first and
// raises the signal second, so a notification that races with the loop's
// decision to sleep always leaves the signal raised.
package broker

import "sync"

// Signal is a coalescing wake-up. Raise never blocks.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal { return &Signal{ch: make(chan struct{}, 1)} }

func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *Signal) C() <-chan struct{} { return s.ch }

type Broker[T any] struct {
	mu    sync.Mutex
	items []T
	wake  *Signal
}

func New[T any](wake *Signal) *Broker[T] {
	if wake == nil {
		wake = NewSignal()
	}
	return &Broker[T]{wake: wake}
}

func (b *Broker[T]) Notify(item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()
	b.wake.Raise()
}

// TakeAll removes and returns everything queued. The caller owns the slice.
func (b *Broker[T]) TakeAll() []T {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()
	return items
}

func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
