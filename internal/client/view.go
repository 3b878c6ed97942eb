// Package client maintains a local, always-consistent view of the chat
// state on behalf of one user: the conversation list and the message
// list of the conversation currently open. Three inputs are merged: the
// initial fetch, live push events, and the user's own optimistic writes.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// API is the server surface the view talks to.
type API interface {
	ListConversations(ctx context.Context) ([]model.ConversationView, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.MessageView, error)
	SendMessage(ctx context.Context, conversationID string, req model.SendMessageRequest) (*model.MessageView, error)
	MarkAsRead(ctx context.Context, conversationID string) error
}

// PendingState tracks an optimistic send through its two-phase lifecycle.
type PendingState int

const (
	// StatePending means the message is shown locally but not yet
	// acknowledged by the server.
	StatePending PendingState = iota
	// StateCommitted means the server acknowledged the send.
	StateCommitted
	// StateRolledBack means the send failed and the local entry was
	// removed.
	StateRolledBack
)

type pendingSend struct {
	state PendingState
}

// View is the reconciled local state for one user.
type View struct {
	api    API
	user   model.Profile
	logger *logger.Logger

	mu            sync.Mutex
	conversations []model.ConversationView
	activeID      string
	messages      []model.MessageView
	pending       map[string]*pendingSend

	// markRetries bounds the at-least-once retry loop for read marks.
	markRetries int
}

// NewView creates a view for the given local user.
func NewView(api API, user model.Profile, log *logger.Logger) *View {
	return &View{
		api:         api,
		user:        user,
		logger:      log,
		pending:     make(map[string]*pendingSend),
		markRetries: 3,
	}
}

// Load performs the initial conversation list fetch.
func (v *View) Load(ctx context.Context) error {
	conversations, err := v.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	v.mu.Lock()
	v.conversations = conversations
	v.mu.Unlock()
	return nil
}

// Open makes the conversation active: its messages are fetched, and it
// is marked read locally right away. The authoritative read mark runs in
// the background; losing it is tolerable since reopening re-triggers it.
func (v *View) Open(ctx context.Context, conversationID string) error {
	messages, err := v.api.ListMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	v.mu.Lock()
	v.activeID = conversationID
	v.messages = messages
	v.markReadLocked(conversationID)
	v.mu.Unlock()

	go v.markReadRemote(conversationID)
	return nil
}

// Send inserts the message optimistically under a client-generated id,
// then asks the server to persist it. The server echoes the same id, so
// the later push event reconciles without a duplicate. On failure the
// optimistic entry is removed and the error returned.
func (v *View) Send(ctx context.Context, conversationID string, req model.SendMessageRequest) (*model.MessageView, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	optimistic := model.MessageView{
		Message: model.Message{
			ID:             req.ID,
			ConversationID: conversationID,
			SenderID:       v.user.ID,
			Body:           req.Body,
			Type:           req.Type,
			FileURI:        req.FileURI,
			CreatedAt:      time.Now(),
		},
		Sender: v.user,
	}

	v.mu.Lock()
	v.pending[req.ID] = &pendingSend{state: StatePending}
	if v.activeID == conversationID {
		v.messages = append(v.messages, optimistic)
	}
	v.mu.Unlock()

	sent, err := v.api.SendMessage(ctx, conversationID, req)

	v.mu.Lock()
	defer v.mu.Unlock()
	p := v.pending[req.ID]

	if err != nil {
		p.state = StateRolledBack
		v.removeMessageLocked(req.ID)
		return nil, fmt.Errorf("send message: %w", err)
	}

	p.state = StateCommitted
	v.replaceMessageLocked(*sent)
	return sent, nil
}

// SendState reports the lifecycle state of an optimistic send, keyed by
// the client-generated message id.
func (v *View) SendState(messageID string) (PendingState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pending[messageID]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// ApplyEvent merges one pushed event into the local state.
func (v *View) ApplyEvent(ev bus.Event) {
	switch ev.Topic {
	case model.TopicConversationCreated:
		var payload model.ConversationCreatedEvent
		if !v.decode(ev, &payload) {
			return
		}
		v.applyCreated(payload.Conversation)

	case model.TopicConversationUpdated:
		var payload model.ConversationUpdatedEvent
		if !v.decode(ev, &payload) {
			return
		}
		v.applyUpdated(payload.Conversation, payload.RemovedUserIDs)

	case model.TopicConversationDeleted:
		var payload model.ConversationDeletedEvent
		if !v.decode(ev, &payload) {
			return
		}
		v.applyDeleted(payload.Conversation.ID)

	case model.TopicMessageSent:
		var payload model.MessageSentEvent
		if !v.decode(ev, &payload) {
			return
		}
		v.applyMessage(payload.Message)
	}
}

// Conversations returns a copy of the local conversation list.
func (v *View) Conversations() []model.ConversationView {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.ConversationView, len(v.conversations))
	copy(out, v.conversations)
	return out
}

// Messages returns a copy of the active conversation's message list.
func (v *View) Messages() []model.MessageView {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.MessageView, len(v.messages))
	copy(out, v.messages)
	return out
}

// applyCreated prepends the new conversation, replacing any existing
// entry with the same id.
func (v *View) applyCreated(conv model.ConversationView) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.removeConversationLocked(conv.ID)
	v.conversations = append([]model.ConversationView{conv}, v.conversations...)
}

// applyUpdated replaces the conversation in place, or drops it when the
// local user is among the removed.
func (v *View) applyUpdated(conv model.ConversationView, removedUserIDs []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range removedUserIDs {
		if id == v.user.ID {
			v.removeConversationLocked(conv.ID)
			if v.activeID == conv.ID {
				v.activeID = ""
				v.messages = nil
			}
			return
		}
	}

	for i := range v.conversations {
		if v.conversations[i].ID == conv.ID {
			v.conversations[i] = conv
			return
		}
	}
	// Not known locally yet, treat as a late create.
	v.conversations = append([]model.ConversationView{conv}, v.conversations...)
}

func (v *View) applyDeleted(conversationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.removeConversationLocked(conversationID)
	if v.activeID == conversationID {
		v.activeID = ""
		v.messages = nil
	}
}

// applyMessage appends a pushed message to the active list unless the
// local user sent it; their own send is already present optimistically.
func (v *View) applyMessage(msg model.MessageView) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.activeID != msg.ConversationID {
		return
	}
	if msg.SenderID == v.user.ID {
		return
	}
	v.messages = append(v.messages, msg)
}

// markReadLocked flips the local user's read flag in the conversation
// list without waiting for the server.
func (v *View) markReadLocked(conversationID string) {
	for i := range v.conversations {
		if v.conversations[i].ID != conversationID {
			continue
		}
		for j := range v.conversations[i].Participants {
			if v.conversations[i].Participants[j].UserID == v.user.ID {
				v.conversations[i].Participants[j].HasSeenLatestMessage = true
			}
		}
	}
}

// markReadRemote pushes the read mark with a bounded retry. At-least-once
// is enough; reopening the conversation re-triggers it.
func (v *View) markReadRemote(conversationID string) {
	for attempt := 0; attempt < v.markRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := v.api.MarkAsRead(ctx, conversationID)
		cancel()
		if err == nil {
			return
		}
		v.logger.Warn("mark-as-read failed, will retry",
			zap.String("conversation_id", conversationID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}
}

func (v *View) decode(ev bus.Event, out any) bool {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		v.logger.Warn("undecodable pushed event",
			zap.String("topic", string(ev.Topic)),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (v *View) removeConversationLocked(conversationID string) {
	for i := range v.conversations {
		if v.conversations[i].ID == conversationID {
			v.conversations = append(v.conversations[:i], v.conversations[i+1:]...)
			return
		}
	}
}

func (v *View) removeMessageLocked(messageID string) {
	for i := range v.messages {
		if v.messages[i].ID == messageID {
			v.messages = append(v.messages[:i], v.messages[i+1:]...)
			return
		}
	}
}

func (v *View) replaceMessageLocked(msg model.MessageView) {
	for i := range v.messages {
		if v.messages[i].ID == msg.ID {
			v.messages[i] = msg
			return
		}
	}
}
