package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/wavelink-im/chat-platform/internal/model"
	natsclient "github.com/wavelink-im/chat-platform/internal/nats"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// SubjectPrefix scopes every chat event subject.
const SubjectPrefix = "chat.events"

// Subject returns the NATS subject for a topic.
func Subject(topic model.Topic) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, topic)
}

// NATS is the Bus over core NATS publish/subscribe. Core subjects give
// exactly the required semantics: live delivery with no replay, and an
// independent delivery path per subscriber.
type NATS struct {
	client *natsclient.Client
}

// NewNATS creates a NATS-backed bus over an established connection.
func NewNATS(client *natsclient.Client) *NATS {
	return &NATS{client: client}
}

var _ Bus = (*NATS)(nil)

// Publish sends the event to the topic's subject; fire-and-forget.
func (n *NATS) Publish(ctx context.Context, topic model.Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	if err := n.client.Conn().Publish(Subject(topic), data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(string(topic)).Inc()
	return nil
}

// Subscribe opens one core subscription per topic, all feeding the same
// subscriber stream.
func (n *NATS) Subscribe(ctx context.Context, topics ...model.Topic) (*Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(topics))
	unsubscribe := func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}

	sub := newSubscription(unsubscribe)
	for _, topic := range topics {
		topic := topic
		ns, err := n.client.Conn().Subscribe(Subject(topic), func(msg *nats.Msg) {
			sub.deliver(Event{Topic: topic, Data: msg.Data})
		})
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, ns)
	}

	sub.watchContext(ctx)
	return sub, nil
}
