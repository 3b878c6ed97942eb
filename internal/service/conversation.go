package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/internal/store"
	"github.com/wavelink-im/chat-platform/pkg/logger"
	"github.com/wavelink-im/chat-platform/pkg/metrics"
)

// ConversationService orchestrates conversation lifecycle operations and
// publishes the corresponding events.
type ConversationService struct {
	store    store.Store
	bus      bus.Bus
	resolver auth.Resolver
	logger   *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, b bus.Bus, resolver auth.Resolver, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:    st,
		bus:      b,
		resolver: resolver,
		logger:   log,
	}
}

// List returns every conversation the user participates in, populated
// with participants and the latest message. The full membership set is
// returned; the contract has no pagination.
func (s *ConversationService) List(ctx context.Context, userID string) ([]model.ConversationView, error) {
	views, err := s.store.FindConversationsByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return views, nil
}

// Create creates a conversation with one participant row per id. Only
// the creator starts with the latest message marked seen. Publishes
// CONVERSATION_CREATED.
func (s *ConversationService) Create(ctx context.Context, credential string, participantIDs []string) (*model.ConversationView, error) {
	creator, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	if len(participantIDs) == 0 {
		return nil, fmt.Errorf("%w: participant list is empty", ErrInvalidInput)
	}

	// Exactly one participant row per user, creator always included.
	seen := make(map[string]bool, len(participantIDs)+1)
	participants := make([]model.Participant, 0, len(participantIDs)+1)
	for _, id := range append([]string{creator.ID}, participantIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, model.Participant{
			UserID:               id,
			HasSeenLatestMessage: id == creator.ID,
		})
	}

	// Every participant must be a known user. The relational store
	// enforces this with a foreign key; checking here keeps both stores
	// in agreement and turns the failure into a validation error.
	for _, p := range participants {
		if p.UserID == creator.ID {
			continue
		}
		if _, err := s.store.FindUserByID(ctx, p.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown participant %s", ErrInvalidInput, p.UserID)
			}
			return nil, fmt.Errorf("verify participant: %w", err)
		}
	}

	view, err := s.store.CreateConversation(ctx, participants)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	metrics.ConversationsTotal.Inc()
	s.logger.WithConversation(view.ID).Info("conversation created",
		zap.String("creator_id", creator.ID),
		zap.Int("participants", len(view.Participants)),
	)

	s.publish(ctx, model.TopicConversationCreated, model.ConversationCreatedEvent{Conversation: *view})
	return view, nil
}

// MarkAsRead sets the user's read flag for the conversation. Idempotent:
// already-read is a successful no-op, as is a missing participant row.
// No event is published; read-state changes are not broadcast.
func (s *ConversationService) MarkAsRead(ctx context.Context, userID, conversationID string) error {
	err := s.store.MarkParticipantSeen(ctx, userID, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark conversation as read: %w", err)
	}
	return nil
}

// Delete detaches the latest-message pointer, then removes the
// conversation with its messages and participants as one unit. Publishes
// CONVERSATION_DELETED with the pre-delete snapshot.
func (s *ConversationService) Delete(ctx context.Context, credential, conversationID string) error {
	if _, err := s.resolver.Resolve(ctx, credential); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	snapshot, err := s.store.FindConversationByID(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	if err := s.store.UpdateConversation(ctx, conversationID, store.ConversationPatch{DetachLatestMessage: true}); err != nil {
		return fmt.Errorf("detach latest message: %w", err)
	}
	if err := s.store.DeleteConversationCascade(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	s.logger.WithConversation(conversationID).Info("conversation deleted")

	s.publish(ctx, model.TopicConversationDeleted, model.ConversationDeletedEvent{Conversation: *snapshot})
	return nil
}

// UpdateParticipants removes the requested users from the conversation.
// Requested ids that are not members are silently ignored. Publishes
// CONVERSATION_UPDATED carrying the ids actually removed, and returns
// them.
func (s *ConversationService) UpdateParticipants(ctx context.Context, credential, conversationID string, removeUserIDs []string) ([]string, error) {
	if _, err := s.resolver.Resolve(ctx, credential); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	participants, err := s.store.FindParticipantsByConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	members := make(map[string]bool, len(participants))
	for _, p := range participants {
		members[p.UserID] = true
	}
	removed := make([]string, 0, len(removeUserIDs))
	for _, id := range removeUserIDs {
		if members[id] {
			removed = append(removed, id)
		}
	}

	if err := s.store.DeleteParticipants(ctx, conversationID, removed); err != nil {
		return nil, fmt.Errorf("delete participants: %w", err)
	}

	view, err := s.store.FindConversationByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	s.logger.WithConversation(conversationID).Info("participants removed",
		zap.Strings("removed_user_ids", removed),
	)

	s.publish(ctx, model.TopicConversationUpdated, model.ConversationUpdatedEvent{
		Conversation:   *view,
		RemovedUserIDs: removed,
	})
	return removed, nil
}

// publish is best-effort: a failed publish is logged and counted but
// never fails the mutation that triggered it.
func (s *ConversationService) publish(ctx context.Context, topic model.Topic, payload any) {
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		metrics.PublishFailures.WithLabelValues(string(topic)).Inc()
		s.logger.Warn("event publish failed",
			zap.String("topic", string(topic)),
			zap.Error(err),
		)
	}
}
