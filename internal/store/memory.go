package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavelink-im/chat-platform/internal/model"
)

// Memory is an in-process Store used for development and tests. All
// mutations run under one write lock, so the multi-row units are atomic
// by construction; concurrent sends resolve last-write-wins.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[string]*model.Conversation
	participants  map[string][]*model.Participant // by conversation id, join order
	messages      map[string][]model.Message      // by conversation id, creation order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[string]*model.User),
		conversations: make(map[string]*model.Conversation),
		participants:  make(map[string][]*model.Participant),
		messages:      make(map[string][]model.Message),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) UpsertUserByEmail(ctx context.Context, user model.User) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			// Profile fields may change; identity fields never do.
			if user.Name != "" {
				existing.Name = user.Name
			}
			if user.Image != "" {
				existing.Image = user.Image
			}
			existing.EmailVerified = user.EmailVerified
			existing.UpdatedAt = now
			out := *existing
			return &out, nil
		}
	}

	created := user
	if created.ID == "" {
		created.ID = uuid.Must(uuid.NewV7()).String()
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	m.users[created.ID] = &created

	out := created
	return &out, nil
}

func (m *Memory) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	return &out, nil
}

func (m *Memory) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Email == email {
			out := *user
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetUsername(ctx context.Context, userID, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	user.Username = username
	user.UpdatedAt = time.Now()
	out := *user
	return &out, nil
}

func (m *Memory) SearchUsers(ctx context.Context, text, excludeUsername string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []model.User
	needle := strings.ToLower(text)
	for _, user := range m.users {
		if user.Username == excludeUsername {
			continue
		}
		if strings.Contains(strings.ToLower(user.Username), needle) {
			users = append(users, *user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (m *Memory) FindConversationsByParticipant(ctx context.Context, userID string) ([]model.ConversationView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var views []model.ConversationView
	for convID, parts := range m.participants {
		for _, p := range parts {
			if p.UserID == userID {
				views = append(views, m.viewLocked(convID))
				break
			}
		}
	}
	// Newest first, matching the conversation list screen.
	sort.Slice(views, func(i, j int) bool { return views[i].UpdatedAt.After(views[j].UpdatedAt) })
	return views, nil
}

func (m *Memory) FindConversationByID(ctx context.Context, id string) (*model.ConversationView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	view := m.viewLocked(id)
	return &view, nil
}

func (m *Memory) CreateConversation(ctx context.Context, participants []model.Participant) (*model.ConversationView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv

	rows := make([]*model.Participant, 0, len(participants))
	for _, p := range participants {
		rows = append(rows, &model.Participant{
			ID:                   uuid.Must(uuid.NewV7()).String(),
			ConversationID:       conv.ID,
			UserID:               p.UserID,
			HasSeenLatestMessage: p.HasSeenLatestMessage,
		})
	}
	m.participants[conv.ID] = rows

	view := m.viewLocked(conv.ID)
	return &view, nil
}

func (m *Memory) UpdateConversation(ctx context.Context, id string, patch ConversationPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if patch.DetachLatestMessage {
		conv.LatestMessageID = nil
	} else if patch.LatestMessageID != nil {
		conv.LatestMessageID = patch.LatestMessageID
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) DeleteConversationCascade(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.participants, id)
	delete(m.messages, id)
	return nil
}

func (m *Memory) FindParticipantsByConversation(ctx context.Context, conversationID string) ([]model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	rows := m.participants[conversationID]
	out := make([]model.Participant, 0, len(rows))
	for _, p := range rows {
		out = append(out, *p)
	}
	return out, nil
}

func (m *Memory) FindParticipantByUserAndConversation(ctx context.Context, userID, conversationID string) (*model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.participants[conversationID] {
		if p.UserID == userID {
			out := *p
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) DeleteParticipants(ctx context.Context, conversationID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	remove := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		remove[id] = true
	}

	rows := m.participants[conversationID]
	kept := rows[:0]
	for _, p := range rows {
		if !remove[p.UserID] {
			kept = append(kept, p)
		}
	}
	m.participants[conversationID] = kept
	m.conversations[conversationID].UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkParticipantSeen(ctx context.Context, userID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.participants[conversationID] {
		if p.UserID == userID {
			p.HasSeenLatestMessage = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) CreateMessage(ctx context.Context, msg model.Message) (*model.MessageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return nil, ErrNotFound
	}
	// Ids are globally unique, matching the primary key the relational
	// store enforces. A replayed client id must not produce a second row.
	for _, msgs := range m.messages {
		for _, existing := range msgs {
			if existing.ID == msg.ID {
				return nil, ErrDuplicateMessage
			}
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)

	view := m.messageViewLocked(msg)
	return &view, nil
}

func (m *Memory) FindMessagesByConversation(ctx context.Context, conversationID string) ([]model.MessageView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	msgs := m.messages[conversationID]
	views := make([]model.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, m.messageViewLocked(msg))
	}
	// Append order already matches creation order; sort keeps the
	// contract explicit for restored snapshots.
	sort.SliceStable(views, func(i, j int) bool { return views[i].CreatedAt.Before(views[j].CreatedAt) })
	return views, nil
}

func (m *Memory) ApplyMessageSent(ctx context.Context, conversationID, messageID, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	var sender *model.Participant
	for _, p := range m.participants[conversationID] {
		if p.UserID == senderID {
			sender = p
			break
		}
	}
	if sender == nil {
		return ErrParticipantMissing
	}

	id := messageID
	conv.LatestMessageID = &id
	conv.UpdatedAt = time.Now()
	for _, p := range m.participants[conversationID] {
		p.HasSeenLatestMessage = p.UserID == senderID
	}
	return nil
}

// viewLocked assembles the populated read model. Callers hold the lock.
func (m *Memory) viewLocked(conversationID string) model.ConversationView {
	conv := m.conversations[conversationID]
	view := model.ConversationView{Conversation: *conv}

	for _, p := range m.participants[conversationID] {
		pv := model.ParticipantView{Participant: *p}
		if user, ok := m.users[p.UserID]; ok {
			pv.User = user.Profile()
		}
		view.Participants = append(view.Participants, pv)
	}

	if conv.LatestMessageID != nil {
		for _, msg := range m.messages[conversationID] {
			if msg.ID == *conv.LatestMessageID {
				mv := m.messageViewLocked(msg)
				view.LatestMessage = &mv
				break
			}
		}
	}
	return view
}

func (m *Memory) messageViewLocked(msg model.Message) model.MessageView {
	view := model.MessageView{Message: msg}
	if user, ok := m.users[msg.SenderID]; ok {
		view.Sender = user.Profile()
	}
	return view
}
