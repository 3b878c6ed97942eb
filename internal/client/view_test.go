package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// fakeAPI is an in-memory server stand-in.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []model.ConversationView
	messages      map[string][]model.MessageView
	sendErr       error
	markErr       error
	markCalls     int
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]model.ConversationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ConversationView(nil), f.conversations...), nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]model.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.MessageView(nil), f.messages[conversationID]...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID string, req model.SendMessageRequest) (*model.MessageView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	// The server echoes the client-generated id.
	msg := model.MessageView{
		Message: model.Message{
			ID:             req.ID,
			ConversationID: conversationID,
			SenderID:       "local",
			Body:           req.Body,
			Type:           req.Type,
			CreatedAt:      time.Now(),
		},
	}
	if f.messages == nil {
		f.messages = make(map[string][]model.MessageView)
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return &msg, nil
}

func (f *fakeAPI) MarkAsRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	return f.markErr
}

func (f *fakeAPI) markCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markCalls
}

func localUser() model.Profile {
	return model.Profile{ID: "local", Username: "local"}
}

func conversation(id string, userIDs ...string) model.ConversationView {
	view := model.ConversationView{Conversation: model.Conversation{ID: id}}
	for _, uid := range userIDs {
		view.Participants = append(view.Participants, model.ParticipantView{
			Participant: model.Participant{ConversationID: id, UserID: uid},
		})
	}
	return view
}

func pushed(t *testing.T, topic model.Topic, payload any) bus.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Event{Topic: topic, Data: data}
}

func TestOpenFetchesMessagesAndMarksRead(t *testing.T) {
	api := &fakeAPI{
		conversations: []model.ConversationView{conversation("c1", "local", "bob")},
		messages: map[string][]model.MessageView{
			"c1": {{Message: model.Message{ID: "m1", ConversationID: "c1", SenderID: "bob"}}},
		},
	}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Load(context.Background()))

	require.NoError(t, v.Open(context.Background(), "c1"))
	require.Len(t, v.Messages(), 1)

	// The local read flag flips immediately, before the server confirms.
	convs := v.Conversations()
	require.Len(t, convs, 1)
	for _, p := range convs[0].Participants {
		if p.UserID == "local" {
			assert.True(t, p.HasSeenLatestMessage)
		}
	}

	// The authoritative mark lands in the background.
	require.Eventually(t, func() bool { return api.markCallCount() >= 1 },
		time.Second, 10*time.Millisecond)
}

func TestMarkAsReadRetries(t *testing.T) {
	api := &fakeAPI{
		conversations: []model.ConversationView{conversation("c1", "local")},
		markErr:       errors.New("transient"),
	}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Open(context.Background(), "c1"))

	require.Eventually(t, func() bool { return api.markCallCount() >= 3 },
		5*time.Second, 20*time.Millisecond)
}

func TestSendOptimisticCommit(t *testing.T) {
	api := &fakeAPI{}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Open(context.Background(), "c1"))

	sent, err := v.Send(context.Background(), "c1", model.SendMessageRequest{
		ID:   "client-m1",
		Body: "hi",
		Type: model.MessageTypeText,
	})
	require.NoError(t, err)
	assert.Equal(t, "client-m1", sent.ID)

	state, ok := v.SendState("client-m1")
	require.True(t, ok)
	assert.Equal(t, StateCommitted, state)

	// Exactly one entry: the optimistic insert reconciled with the
	// server echo by id.
	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "client-m1", msgs[0].ID)
}

func TestSendOptimisticRollback(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("boom")}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Open(context.Background(), "c1"))

	_, err := v.Send(context.Background(), "c1", model.SendMessageRequest{
		ID:   "client-m1",
		Body: "hi",
		Type: model.MessageTypeText,
	})
	require.Error(t, err)

	state, ok := v.SendState("client-m1")
	require.True(t, ok)
	assert.Equal(t, StateRolledBack, state)
	assert.Empty(t, v.Messages(), "failed optimistic entry must be removed")
}

func TestPushedMessageFromOtherUserAppends(t *testing.T) {
	api := &fakeAPI{}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Open(context.Background(), "c1"))

	v.ApplyEvent(pushed(t, model.TopicMessageSent, model.MessageSentEvent{
		Message: model.MessageView{
			Message: model.Message{ID: "m2", ConversationID: "c1", SenderID: "bob"},
		},
	}))

	msgs := v.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
}

func TestPushedOwnMessageIsSkipped(t *testing.T) {
	api := &fakeAPI{}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Open(context.Background(), "c1"))

	_, err := v.Send(context.Background(), "c1", model.SendMessageRequest{
		ID:   "client-m1",
		Body: "hi",
		Type: model.MessageTypeText,
	})
	require.NoError(t, err)

	// The server's push of our own send must not duplicate the entry.
	v.ApplyEvent(pushed(t, model.TopicMessageSent, model.MessageSentEvent{
		Message: model.MessageView{
			Message: model.Message{ID: "client-m1", ConversationID: "c1", SenderID: "local"},
		},
	}))

	assert.Len(t, v.Messages(), 1)
}

func TestPushedMessageForInactiveConversationIgnored(t *testing.T) {
	api := &fakeAPI{}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Open(context.Background(), "c1"))

	v.ApplyEvent(pushed(t, model.TopicMessageSent, model.MessageSentEvent{
		Message: model.MessageView{
			Message: model.Message{ID: "m9", ConversationID: "c2", SenderID: "bob"},
		},
	}))

	assert.Empty(t, v.Messages())
}

func TestConversationCreatedPrepends(t *testing.T) {
	api := &fakeAPI{conversations: []model.ConversationView{conversation("c1", "local")}}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Load(context.Background()))

	v.ApplyEvent(pushed(t, model.TopicConversationCreated, model.ConversationCreatedEvent{
		Conversation: conversation("c2", "local", "bob"),
	}))

	convs := v.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "c1", convs[1].ID)
}

func TestConversationUpdatedReplacesInPlace(t *testing.T) {
	api := &fakeAPI{conversations: []model.ConversationView{
		conversation("c1", "local"),
		conversation("c2", "local", "bob"),
	}}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Load(context.Background()))

	updated := conversation("c2", "local", "bob")
	updated.LatestMessage = &model.MessageView{
		Message: model.Message{ID: "m1", ConversationID: "c2", SenderID: "bob"},
	}
	v.ApplyEvent(pushed(t, model.TopicConversationUpdated, model.ConversationUpdatedEvent{
		Conversation:   updated,
		RemovedUserIDs: []string{},
	}))

	convs := v.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[1].ID)
	require.NotNil(t, convs[1].LatestMessage)
	assert.Equal(t, "m1", convs[1].LatestMessage.ID)
}

func TestRemovalFromConversationDropsIt(t *testing.T) {
	api := &fakeAPI{conversations: []model.ConversationView{conversation("c1", "local", "bob")}}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Load(context.Background()))
	require.NoError(t, v.Open(context.Background(), "c1"))

	v.ApplyEvent(pushed(t, model.TopicConversationUpdated, model.ConversationUpdatedEvent{
		Conversation:   conversation("c1", "bob"),
		RemovedUserIDs: []string{"local"},
	}))

	assert.Empty(t, v.Conversations())
	assert.Empty(t, v.Messages(), "active conversation resets when the local user is removed")
}

func TestConversationDeletedRemoves(t *testing.T) {
	api := &fakeAPI{conversations: []model.ConversationView{conversation("c1", "local", "bob")}}
	v := NewView(api, localUser(), logger.Nop())
	require.NoError(t, v.Load(context.Background()))

	v.ApplyEvent(pushed(t, model.TopicConversationDeleted, model.ConversationDeletedEvent{
		Conversation: conversation("c1", "local", "bob"),
	}))

	assert.Empty(t, v.Conversations())
}
