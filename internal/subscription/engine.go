// Package subscription decides, per event and per subscriber, whether a
// published event is visible to that subscriber before delivery.
package subscription

import (
	"context"

	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/logger"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// Scope is the subscriber-side context a predicate evaluates against.
// The credential is re-resolved on every event, so a revoked token stops
// deliveries without tearing the stream down. ConversationID is set only
// while the client is actively viewing a conversation and scopes the
// MESSAGE_SENT stream.
type Scope struct {
	Credential     string
	ConversationID string
}

// Filter is a per-topic visibility predicate: a tagged-variant dispatch,
// one implementation per topic.
type Filter interface {
	Topic() model.Topic
	Visible(ctx context.Context, ev bus.Event, scope Scope) bool
}

// Engine routes events to the topic's predicate. Unknown topics are
// never visible.
type Engine struct {
	filters map[model.Topic]Filter
	logger  *logger.Logger
}

// NewEngine creates an engine with the given filters.
func NewEngine(log *logger.Logger, filters ...Filter) *Engine {
	byTopic := make(map[model.Topic]Filter, len(filters))
	for _, f := range filters {
		byTopic[f.Topic()] = f
	}
	return &Engine{filters: byTopic, logger: log}
}

// Visible evaluates the topic's predicate for one subscriber. Predicate
// internals must not crash the stream; any failure counts as not
// visible and the stream continues.
func (e *Engine) Visible(ctx context.Context, ev bus.Event, scope Scope) bool {
	f, ok := e.filters[ev.Topic]
	if !ok {
		return false
	}
	visible := f.Visible(ctx, ev, scope)
	metrics.RecordFilterEvaluation(string(ev.Topic), visible)
	return visible
}
