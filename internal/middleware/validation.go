package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageBody validates message body text.
func ValidateMessageBody(body string) error {
	if len(body) > 100000 { // ~100KB limit
		return errors.New("body exceeds maximum length")
	}
	if !utf8.ValidString(body) {
		return errors.New("body must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateUsername validates a chosen username.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return errors.New("username cannot be empty")
	}
	if len(username) > 64 {
		return errors.New("username exceeds maximum length")
	}
	if !utf8.ValidString(username) {
		return errors.New("username must be valid UTF-8")
	}
	return nil
}
