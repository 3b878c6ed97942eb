package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// Memory is a single-instance in-process broker with the same semantics
// as the NATS bus. Used in development and tests.
type Memory struct {
	mu   sync.RWMutex
	subs map[*Subscription]map[model.Topic]bool
}

// NewMemory creates an in-process bus.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[*Subscription]map[model.Topic]bool),
	}
}

var _ Bus = (*Memory)(nil)

// Publish fans the event out to every current subscriber of the topic.
// Each subscriber's delivery path is independent; a full buffer on one
// never delays another.
func (m *Memory) Publish(ctx context.Context, topic model.Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	ev := Event{Topic: topic, Data: data}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for sub, topics := range m.subs {
		if topics[topic] {
			sub.deliver(ev)
		}
	}
	metrics.EventsPublished.WithLabelValues(string(topic)).Inc()
	return nil
}

// Subscribe registers a live stream over the given topics.
func (m *Memory) Subscribe(ctx context.Context, topics ...model.Topic) (*Subscription, error) {
	set := make(map[model.Topic]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}

	var sub *Subscription
	sub = newSubscription(func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	})

	m.mu.Lock()
	m.subs[sub] = set
	m.mu.Unlock()

	sub.watchContext(ctx)
	return sub, nil
}
