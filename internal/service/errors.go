// Package service provides business logic for the chat platform.
package service

import "errors"

var (
	// ErrInvalidActor means the acting credential could not be resolved
	// to a user identity.
	ErrInvalidActor = errors.New("invalid actor")

	// ErrNotFound means a referenced conversation or message is absent.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized means the resolved user is not a participant of
	// the conversation they tried to access.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrParticipantMissing means the sender has no participant row for
	// the conversation. This is a data-integrity bug and is logged loudly.
	ErrParticipantMissing = errors.New("participant missing")

	// ErrInvalidInput means a request failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
