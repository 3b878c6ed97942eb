package model

import (
	"time"
)

// MessageType distinguishes plain text messages from file attachments.
type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeFile MessageType = "FILE"
)

// Message represents a conversation message. The ID is client-generated
// so an optimistic local insertion reconciles with the confirmed row.
// Messages are immutable once created and are deleted only via
// conversation cascade-delete.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Body           string      `json:"body,omitempty"`
	Type           MessageType `json:"type"`
	FileURI        string      `json:"file_uri,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// MessageView is a message populated with the sender's profile.
type MessageView struct {
	Message
	Sender Profile `json:"sender"`
}

// SendMessageRequest is the request to send a new message. ID is the
// client-generated message id.
type SendMessageRequest struct {
	ID      string      `json:"id"`
	Body    string      `json:"body"`
	Type    MessageType `json:"type"`
	FileURI string      `json:"file_uri,omitempty"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *MessageView `json:"message"`
}

// ListMessagesResponse is the response for listing messages, ordered by
// creation time ascending.
type ListMessagesResponse struct {
	Messages []MessageView `json:"messages"`
}
