package subscription

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

type staticResolver struct {
	users map[string]*model.User
}

func (r *staticResolver) Resolve(ctx context.Context, credential string) (*model.User, error) {
	user, ok := r.users[credential]
	if !ok {
		return nil, auth.ErrInvalidCredential
	}
	return user, nil
}

func newTestEngine(t *testing.T, users ...string) (*Engine, *staticResolver) {
	t.Helper()
	resolver := &staticResolver{users: make(map[string]*model.User)}
	for _, id := range users {
		resolver.users["tok-"+id] = &model.User{ID: id, Username: id}
	}
	log := logger.Nop()
	return NewEngine(log, DefaultFilters(resolver, log)...), resolver
}

func event(t *testing.T, topic model.Topic, payload any) bus.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Event{Topic: topic, Data: data}
}

func conversationWith(userIDs ...string) model.ConversationView {
	view := model.ConversationView{
		Conversation: model.Conversation{ID: "c1"},
	}
	for _, id := range userIDs {
		view.Participants = append(view.Participants, model.ParticipantView{
			Participant: model.Participant{ConversationID: "c1", UserID: id},
		})
	}
	return view
}

func TestConversationCreatedVisibility(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "bob", "eve")
	ctx := context.Background()

	ev := event(t, model.TopicConversationCreated, model.ConversationCreatedEvent{
		Conversation: conversationWith("alice", "bob"),
	})

	assert.True(t, engine.Visible(ctx, ev, Scope{Credential: "tok-alice"}))
	assert.True(t, engine.Visible(ctx, ev, Scope{Credential: "tok-bob"}))
	assert.False(t, engine.Visible(ctx, ev, Scope{Credential: "tok-eve"}))
}

func TestConversationUpdatedVisibility(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "bob", "carol", "eve")
	ctx := context.Background()

	conv := conversationWith("alice", "bob")
	conv.LatestMessage = &model.MessageView{
		Message: model.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"},
	}

	tests := []struct {
		name    string
		removed []string
		cred    string
		want    bool
	}{
		{"participant with unread latest", nil, "tok-bob", true},
		{"sender of latest message", nil, "tok-alice", true},
		{"outsider", nil, "tok-eve", false},
		{"removed non-participant", []string{"carol"}, "tok-carol", true},
		{"outsider with others removed", []string{"carol"}, "tok-eve", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := event(t, model.TopicConversationUpdated, model.ConversationUpdatedEvent{
				Conversation:   conv,
				RemovedUserIDs: tt.removed,
			})
			assert.Equal(t, tt.want, engine.Visible(ctx, ev, Scope{Credential: tt.cred}))
		})
	}
}

func TestConversationDeletedVisibility(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "eve")
	ctx := context.Background()

	// The payload is the pre-delete snapshot; membership is judged
	// against it.
	ev := event(t, model.TopicConversationDeleted, model.ConversationDeletedEvent{
		Conversation: conversationWith("alice", "bob"),
	})

	assert.True(t, engine.Visible(ctx, ev, Scope{Credential: "tok-alice"}))
	assert.False(t, engine.Visible(ctx, ev, Scope{Credential: "tok-eve"}))
}

func TestMessageSentVisibilityScopedByConversation(t *testing.T) {
	engine, _ := newTestEngine(t, "alice")
	ctx := context.Background()

	ev := event(t, model.TopicMessageSent, model.MessageSentEvent{
		Message: model.MessageView{
			Message: model.Message{ID: "m1", ConversationID: "c1", SenderID: "bob"},
		},
	})

	assert.True(t, engine.Visible(ctx, ev, Scope{Credential: "tok-alice", ConversationID: "c1"}))
	assert.False(t, engine.Visible(ctx, ev, Scope{Credential: "tok-alice", ConversationID: "c2"}))
	assert.False(t, engine.Visible(ctx, ev, Scope{Credential: "tok-alice"}), "unscoped stream gets no messages")
}

func TestIdentityFailureHidesEvent(t *testing.T) {
	engine, _ := newTestEngine(t, "alice")
	ctx := context.Background()

	created := event(t, model.TopicConversationCreated, model.ConversationCreatedEvent{
		Conversation: conversationWith("alice"),
	})
	sent := event(t, model.TopicMessageSent, model.MessageSentEvent{
		Message: model.MessageView{
			Message: model.Message{ID: "m1", ConversationID: "c1"},
		},
	})

	// Resolution failure means not visible, never an error.
	assert.False(t, engine.Visible(ctx, created, Scope{Credential: "expired"}))
	assert.False(t, engine.Visible(ctx, sent, Scope{Credential: "expired", ConversationID: "c1"}))
}

func TestUnknownTopicIsHidden(t *testing.T) {
	engine, _ := newTestEngine(t, "alice")

	ev := bus.Event{Topic: "UNKNOWN_TOPIC", Data: []byte(`{}`)}
	assert.False(t, engine.Visible(context.Background(), ev, Scope{Credential: "tok-alice"}))
}

func TestMalformedPayloadIsHidden(t *testing.T) {
	engine, _ := newTestEngine(t, "alice")

	ev := bus.Event{Topic: model.TopicConversationCreated, Data: []byte(`{"conversation":`)}
	assert.False(t, engine.Visible(context.Background(), ev, Scope{Credential: "tok-alice"}))
}
