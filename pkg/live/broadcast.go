package live

import (
	"context"
	"sync"
)

// Broadcaster fans values from one producer out to any number of
// subscribers. Each subscriber has its own unbounded queue, so a slow
// consumer never blocks the read loop or other consumers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe returns a subscription receiving every value published from now
// on. Subscribing to a closed broadcaster yields an ended subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{b: b, ready: make(chan struct{}, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.ended = true
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.push(v)
	}
}

// Close ends every subscription. Queued values are still delivered.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.end()
	}
	b.subs = nil
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is a non-restartable sequence of values.
type Subscription[T any] struct {
	b     *Broadcaster[T]
	mu    sync.Mutex
	queue []T
	ended bool
	ready chan struct{}
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available. It returns false once the
// subscription has ended and its queue is drained, or when ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			var zero T
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return v, true
		}
		ended := s.ended
		s.mu.Unlock()
		if ended {
			var zero T
			return zero, false
		}

		select {
		case <-s.ready:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Close detaches the subscription and drops anything still queued.
func (s *Subscription[T]) Close() {
	s.b.remove(s)
	s.mu.Lock()
	s.ended = true
	s.queue = nil
	s.mu.Unlock()
	s.wake()
}
