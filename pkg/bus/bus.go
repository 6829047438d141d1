// Package bus is the in-process decision fan-out: every processed event's
// message is delivered to each current subscriber in publish order. Queues
// are unbounded per subscriber, so a slow consumer never blocks publishers
// or its peers.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/watchit-dev/watchit/pkg/models"
)

// ErrClosed is returned by Next after the subscriber is unsubscribed.
var ErrClosed = errors.New("bus: subscriber closed")

// Bus fans decision messages out to subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscriber holds one consumer's pending messages in FIFO order.
type Subscriber struct {
	mu     sync.Mutex
	queue  []models.DecisionMessage
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// Subscribe registers a new consumer.
func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s. Pending messages may still be drained via Next,
// which returns ErrClosed once the queue is empty.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	s.mu.Unlock()
}

// Publish enqueues msg to every current subscriber. Never blocks.
func (b *Bus) Publish(msg models.DecisionMessage) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(msg)
	}
}

// SubscriberCount reports the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *Subscriber) push(msg models.DecisionMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a message is available, the context ends, or the
// subscriber is unsubscribed. Messages arrive in publish order.
func (s *Subscriber) Next(ctx context.Context) (models.DecisionMessage, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return msg, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return models.DecisionMessage{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return models.DecisionMessage{}, ctx.Err()
		case <-s.done:
			// Loop once more to drain anything racing the close.
		case <-s.notify:
		}
	}
}
