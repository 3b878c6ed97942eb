package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/internal/store"
	"github.com/wavelink-im/chat-platform/pkg/logger"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// MessageService orchestrates message send and read paths and publishes
// the corresponding events.
type MessageService struct {
	store    store.Store
	bus      bus.Bus
	resolver auth.Resolver
	logger   *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(st store.Store, b bus.Bus, resolver auth.Resolver, log *logger.Logger) *MessageService {
	return &MessageService{
		store:    st,
		bus:      b,
		resolver: resolver,
		logger:   log,
	}
}

// SendMessageInput carries a send request. ID is the client-generated
// message id used to reconcile an optimistic local insertion; a fresh id
// is assigned when empty.
type SendMessageInput struct {
	ID             string
	ConversationID string
	Body           string
	Type           model.MessageType
	FileURI        string
}

// List returns the conversation's messages ordered by creation time
// ascending. Fails with ErrNotFound when the conversation is absent and
// ErrNotAuthorized when the resolved user is not a participant.
func (s *MessageService) List(ctx context.Context, credential, conversationID string) ([]model.MessageView, error) {
	user, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	view, err := s.store.FindConversationByID(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !view.HasParticipant(user.ID) {
		return nil, ErrNotAuthorized
	}

	messages, err := s.store.FindMessagesByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Send creates the message row, then applies the latest-message pointer
// and read-flag updates as one unit: sender seen, everyone else unseen.
// Publishes MESSAGE_SENT followed by CONVERSATION_UPDATED with no
// removed users.
func (s *MessageService) Send(ctx context.Context, credential string, input SendMessageInput) (*model.MessageView, error) {
	sender, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	if err := validateSend(&input); err != nil {
		return nil, err
	}

	msgView, err := s.store.CreateMessage(ctx, model.Message{
		ID:             input.ID,
		ConversationID: input.ConversationID,
		SenderID:       sender.ID,
		Body:           input.Body,
		Type:           input.Type,
		FileURI:        input.FileURI,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if errors.Is(err, store.ErrDuplicateMessage) {
		return nil, fmt.Errorf("%w: message id already used", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	err = s.store.ApplyMessageSent(ctx, input.ConversationID, msgView.ID, sender.ID)
	if errors.Is(err, store.ErrParticipantMissing) {
		// Should never occur under correct invariants.
		s.logger.WithConversation(input.ConversationID).Error("sender has no participant row",
			zap.String("sender_id", sender.ID),
			zap.String("message_id", msgView.ID),
		)
		return nil, ErrParticipantMissing
	}
	if err != nil {
		return nil, fmt.Errorf("apply message sent: %w", err)
	}

	view, err := s.store.FindConversationByID(ctx, input.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(input.Type)).Inc()

	s.publish(ctx, model.TopicMessageSent, model.MessageSentEvent{Message: *msgView})
	s.publish(ctx, model.TopicConversationUpdated, model.ConversationUpdatedEvent{
		Conversation:   *view,
		RemovedUserIDs: []string{},
	})
	return msgView, nil
}

func validateSend(input *SendMessageInput) error {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	switch input.Type {
	case model.MessageTypeText:
		if input.Body == "" {
			return fmt.Errorf("%w: text message has no body", ErrInvalidInput)
		}
	case model.MessageTypeFile:
		if input.FileURI == "" {
			return fmt.Errorf("%w: file message has no file uri", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, input.Type)
	}
	return nil
}

func (s *MessageService) publish(ctx context.Context, topic model.Topic, payload any) {
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		metrics.PublishFailures.WithLabelValues(string(topic)).Inc()
		s.logger.Warn("event publish failed",
			zap.String("topic", string(topic)),
			zap.Error(err),
		)
	}
}
