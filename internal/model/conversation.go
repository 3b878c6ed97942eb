package model

import (
	"time"
)

// Conversation represents a conversation thread. LatestMessageID, when
// set, references the most recently created message in this conversation.
type Conversation struct {
	ID              string    `json:"id"`
	LatestMessageID *string   `json:"latest_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Participant binds one user to one conversation and carries that user's
// read-state. Exactly one row exists per (user, conversation).
type Participant struct {
	ID                   string `json:"id"`
	ConversationID       string `json:"conversation_id"`
	UserID               string `json:"user_id"`
	HasSeenLatestMessage bool   `json:"has_seen_latest_message"`
}

// ParticipantView is a participant populated with the user's profile.
type ParticipantView struct {
	Participant
	User Profile `json:"user"`
}

// ConversationView is the read model returned to clients and carried on
// conversation events: the conversation with its participants (and their
// profiles) and the latest message (with its sender profile).
type ConversationView struct {
	Conversation
	Participants  []ParticipantView `json:"participants"`
	LatestMessage *MessageView      `json:"latest_message,omitempty"`
}

// HasParticipant reports whether the user is among the view's participants.
func (v *ConversationView) HasParticipant(userID string) bool {
	for _, p := range v.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

// CreateConversationResponse is the response after creating a conversation.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// UpdateParticipantsRequest is the request to remove participants from a
// conversation.
type UpdateParticipantsRequest struct {
	RemoveUserIDs []string `json:"remove_user_ids"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ConversationView `json:"conversations"`
}
