// Package bus provides the topic-based publish/subscribe broker that
// decouples mutation-producing operations from connected observers.
// Streams are live: only events published after subscription are seen,
// and delivery is at-most-once per subscriber.
package bus

import (
	"context"
	"sync"

	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// Event is a published domain event. Data is the JSON-encoded payload
// for the topic.
type Event struct {
	Topic model.Topic `json:"topic"`
	Data  []byte      `json:"data"`
}

// Bus accepts published events and fans each out to every subscriber
// registered for its topic.
type Bus interface {
	// Publish delivers the payload to current subscribers of the topic.
	// It never blocks on a slow subscriber.
	Publish(ctx context.Context, topic model.Topic, payload any) error

	// Subscribe opens a live stream over the given topics. The stream is
	// cancelled when ctx is done or Close is called.
	Subscribe(ctx context.Context, topics ...model.Topic) (*Subscription, error)
}

// subscriberBuffer bounds per-subscriber delivery. A subscriber that
// falls further behind loses its oldest undelivered events.
const subscriberBuffer = 64

// Subscription is one subscriber's live event stream.
type Subscription struct {
	ch      chan Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	cleanup func()
}

func newSubscription(cleanup func()) *Subscription {
	return &Subscription{
		ch:      make(chan Event, subscriberBuffer),
		done:    make(chan struct{}),
		cleanup: cleanup,
	}
}

// watchContext closes the subscription when ctx is cancelled. The
// goroutine exits when either side finishes first.
func (s *Subscription) watchContext(ctx context.Context) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

// Events returns the stream channel. It is closed when the subscription
// ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close releases the subscription: the registration is removed and the
// channel is closed. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	if s.cleanup != nil {
		s.cleanup()
	}

	s.mu.Lock()
	close(s.ch)
	s.mu.Unlock()
}

// deliver enqueues without blocking; when the buffer is full the oldest
// pending event is dropped to make room.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
	metrics.EventsDropped.WithLabelValues(string(ev.Topic)).Inc()
}
