package subscription

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// DefaultFilters returns one predicate per published topic.
func DefaultFilters(resolver auth.Resolver, log *logger.Logger) []Filter {
	return []Filter{
		&ConversationCreatedFilter{resolver: resolver, logger: log},
		&ConversationUpdatedFilter{resolver: resolver, logger: log},
		&ConversationDeletedFilter{resolver: resolver, logger: log},
		&MessageSentFilter{resolver: resolver, logger: log},
	}
}

// ConversationCreatedFilter shows a created conversation only to its
// participants.
type ConversationCreatedFilter struct {
	resolver auth.Resolver
	logger   *logger.Logger
}

func (f *ConversationCreatedFilter) Topic() model.Topic { return model.TopicConversationCreated }

func (f *ConversationCreatedFilter) Visible(ctx context.Context, ev bus.Event, scope Scope) bool {
	var payload model.ConversationCreatedEvent
	if !decode(ev, &payload, f.logger) {
		return false
	}
	user, ok := resolve(ctx, f.resolver, scope.Credential, f.logger)
	if !ok {
		return false
	}
	return payload.Conversation.HasParticipant(user.ID)
}

// ConversationUpdatedFilter shows an update to anyone with new unread
// information, to the sender of the latest message (they need the echo
// for their own state), and to anyone being removed. A 3-way OR: any one
// condition is sufficient.
type ConversationUpdatedFilter struct {
	resolver auth.Resolver
	logger   *logger.Logger
}

func (f *ConversationUpdatedFilter) Topic() model.Topic { return model.TopicConversationUpdated }

func (f *ConversationUpdatedFilter) Visible(ctx context.Context, ev bus.Event, scope Scope) bool {
	var payload model.ConversationUpdatedEvent
	if !decode(ev, &payload, f.logger) {
		return false
	}
	user, ok := resolve(ctx, f.resolver, scope.Credential, f.logger)
	if !ok {
		return false
	}

	isParticipant := payload.Conversation.HasParticipant(user.ID)
	sentLatest := payload.Conversation.LatestMessage != nil &&
		payload.Conversation.LatestMessage.SenderID == user.ID
	beingRemoved := false
	for _, id := range payload.RemovedUserIDs {
		if id == user.ID {
			beingRemoved = true
			break
		}
	}

	return (isParticipant && !sentLatest) || sentLatest || beingRemoved
}

// ConversationDeletedFilter shows a deletion to the pre-delete
// participants; the payload snapshot is the only membership record left.
type ConversationDeletedFilter struct {
	resolver auth.Resolver
	logger   *logger.Logger
}

func (f *ConversationDeletedFilter) Topic() model.Topic { return model.TopicConversationDeleted }

func (f *ConversationDeletedFilter) Visible(ctx context.Context, ev bus.Event, scope Scope) bool {
	var payload model.ConversationDeletedEvent
	if !decode(ev, &payload, f.logger) {
		return false
	}
	user, ok := resolve(ctx, f.resolver, scope.Credential, f.logger)
	if !ok {
		return false
	}
	return payload.Conversation.HasParticipant(user.ID)
}

// MessageSentFilter shows a message only on the stream that requested
// that exact conversation at subscribe time. The stream is opened only
// while a client is actively viewing a conversation, so scoping is by
// subscription, not by participant lookup.
type MessageSentFilter struct {
	resolver auth.Resolver
	logger   *logger.Logger
}

func (f *MessageSentFilter) Topic() model.Topic { return model.TopicMessageSent }

func (f *MessageSentFilter) Visible(ctx context.Context, ev bus.Event, scope Scope) bool {
	var payload model.MessageSentEvent
	if !decode(ev, &payload, f.logger) {
		return false
	}
	if _, ok := resolve(ctx, f.resolver, scope.Credential, f.logger); !ok {
		return false
	}
	return scope.ConversationID != "" && payload.Message.ConversationID == scope.ConversationID
}

// decode unmarshals the event payload. A malformed payload withholds the
// event instead of crashing the stream.
func decode(ev bus.Event, v any, log *logger.Logger) bool {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		log.Warn("undecodable event payload",
			zap.String("topic", string(ev.Topic)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// resolve re-verifies the subscriber's credential. Resolution failure is
// "not visible", never a stream error.
func resolve(ctx context.Context, r auth.Resolver, credential string, log *logger.Logger) (*model.User, bool) {
	user, err := r.Resolve(ctx, credential)
	if err != nil {
		log.Debug("subscriber credential no longer resolves", zap.Error(err))
		return nil, false
	}
	return user, true
}
