package model

// Topic identifies a class of domain events on the bus.
type Topic string

const (
	TopicConversationCreated Topic = "CONVERSATION_CREATED"
	TopicConversationUpdated Topic = "CONVERSATION_UPDATED"
	TopicConversationDeleted Topic = "CONVERSATION_DELETED"
	TopicMessageSent         Topic = "MESSAGE_SENT"
)

// Topics lists every topic the platform publishes.
func Topics() []Topic {
	return []Topic{
		TopicConversationCreated,
		TopicConversationUpdated,
		TopicConversationDeleted,
		TopicMessageSent,
	}
}

// ConversationCreatedEvent is published after a conversation is created.
type ConversationCreatedEvent struct {
	Conversation ConversationView `json:"conversation"`
}

// ConversationUpdatedEvent is published after a conversation changes:
// a new latest message, or participants removed. RemovedUserIDs carries
// the ids actually removed, empty on message-driven updates.
type ConversationUpdatedEvent struct {
	Conversation   ConversationView `json:"conversation"`
	RemovedUserIDs []string         `json:"removed_user_ids"`
}

// ConversationDeletedEvent is published after a conversation is deleted.
// The view is the pre-delete snapshot; subscribers need it to decide
// visibility after the rows no longer exist.
type ConversationDeletedEvent struct {
	Conversation ConversationView `json:"conversation"`
}

// MessageSentEvent is published after a message is created.
type MessageSentEvent struct {
	Message MessageView `json:"message"`
}
