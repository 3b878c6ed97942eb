// Package store defines the conversation store contract and its
// implementations. The services depend only on the Store interface; the
// engine behind it is interchangeable.
package store

import (
	"context"
	"errors"

	"github.com/wavelink-im/chat-platform/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrParticipantMissing is returned by ApplyMessageSent when the
	// sender has no participant row for the conversation. It indicates a
	// data-integrity bug, not a normal failure.
	ErrParticipantMissing = errors.New("store: participant missing")

	// ErrDuplicateMessage is returned by CreateMessage when a message
	// with the same id already exists. Client-supplied ids are the
	// dedup key for replayed sends.
	ErrDuplicateMessage = errors.New("store: duplicate message id")
)

// ConversationPatch describes a partial conversation update.
type ConversationPatch struct {
	LatestMessageID *string
	// DetachLatestMessage clears the latest-message pointer. Set before a
	// cascade delete to avoid a dangling cross-reference mid-deletion.
	DetachLatestMessage bool
}

// Store is the adapter contract over users, conversations, participants
// and messages. Multi-row operations are atomic: DeleteConversationCascade
// and ApplyMessageSent either fully apply or leave no trace.
type Store interface {
	// Users
	UpsertUserByEmail(ctx context.Context, user model.User) (*model.User, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	SetUsername(ctx context.Context, userID, username string) (*model.User, error)
	SearchUsers(ctx context.Context, text, excludeUsername string) ([]model.User, error)

	// Conversations
	FindConversationsByParticipant(ctx context.Context, userID string) ([]model.ConversationView, error)
	FindConversationByID(ctx context.Context, id string) (*model.ConversationView, error)
	CreateConversation(ctx context.Context, participants []model.Participant) (*model.ConversationView, error)
	UpdateConversation(ctx context.Context, id string, patch ConversationPatch) error
	DeleteConversationCascade(ctx context.Context, id string) error

	// Participants
	FindParticipantsByConversation(ctx context.Context, conversationID string) ([]model.Participant, error)
	FindParticipantByUserAndConversation(ctx context.Context, userID, conversationID string) (*model.Participant, error)
	DeleteParticipants(ctx context.Context, conversationID string, userIDs []string) error
	MarkParticipantSeen(ctx context.Context, userID, conversationID string) error

	// Messages
	CreateMessage(ctx context.Context, msg model.Message) (*model.MessageView, error)
	FindMessagesByConversation(ctx context.Context, conversationID string) ([]model.MessageView, error)

	// ApplyMessageSent sets the conversation's latest-message pointer and
	// flips read flags (sender true, everyone else false) as one unit.
	ApplyMessageSent(ctx context.Context, conversationID, messageID, senderID string) error
}
