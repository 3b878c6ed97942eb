package service

import (
	"context"
	"fmt"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/internal/store"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// UserService covers profile setup and the user search used when
// starting a conversation.
type UserService struct {
	store    store.Store
	resolver auth.Resolver
	logger   *logger.Logger
}

// NewUserService creates a new user service.
func NewUserService(st store.Store, resolver auth.Resolver, log *logger.Logger) *UserService {
	return &UserService{
		store:    st,
		resolver: resolver,
		logger:   log,
	}
}

// Me resolves the credential to the current user.
func (s *UserService) Me(ctx context.Context, credential string) (*model.User, error) {
	user, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	return user, nil
}

// SetUsername completes profile setup for the resolved user.
func (s *UserService) SetUsername(ctx context.Context, credential, username string) (*model.User, error) {
	user, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: username is empty", ErrInvalidInput)
	}

	updated, err := s.store.SetUsername(ctx, user.ID, username)
	if err != nil {
		return nil, fmt.Errorf("set username: %w", err)
	}
	return updated, nil
}

// Search finds users matching the text, excluding the requester.
func (s *UserService) Search(ctx context.Context, credential, text string) ([]model.User, error) {
	user, err := s.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActor, err)
	}

	users, err := s.store.SearchUsers(ctx, text, user.Username)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}
