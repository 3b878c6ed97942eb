package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink-im/chat-platform/internal/model"
)

func TestSendMessageUpdatesPointerAndFlags(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID, f.users["carol"].ID})
	require.NoError(t, err)

	msg, err := f.msgs.Send(ctx, "tok-bob", SendMessageInput{
		ConversationID: view.ID,
		Body:           "hi",
		Type:           model.MessageTypeText,
	})
	require.NoError(t, err)

	updated, err := f.store.FindConversationByID(ctx, view.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LatestMessageID)
	assert.Equal(t, msg.ID, *updated.LatestMessageID)

	assert.True(t, f.flag(t, view.ID, "bob"))
	assert.False(t, f.flag(t, view.ID, "alice"))
	assert.False(t, f.flag(t, view.ID, "carol"))
}

func TestSendMessageClientIDRoundTrip(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	sent, err := f.msgs.Send(ctx, "tok-alice", SendMessageInput{
		ID:             "client-m1",
		ConversationID: view.ID,
		Body:           "hello",
		Type:           model.MessageTypeText,
	})
	require.NoError(t, err)
	assert.Equal(t, "client-m1", sent.ID)

	msgs, err := f.msgs.List(ctx, "tok-bob", view.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "client-m1", msgs[0].ID)
}

func TestSendMessageRejectsReplayedClientID(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	input := SendMessageInput{
		ID:             "client-m1",
		ConversationID: view.ID,
		Body:           "hello",
		Type:           model.MessageTypeText,
	}
	_, err = f.msgs.Send(ctx, "tok-alice", input)
	require.NoError(t, err)

	// Reusing the same client id must not create a second row.
	_, err = f.msgs.Send(ctx, "tok-alice", input)
	assert.ErrorIs(t, err, ErrInvalidInput)

	msgs, err := f.msgs.List(ctx, "tok-alice", view.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendMessageGeneratesIDWhenMissing(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	sent, err := f.msgs.Send(ctx, "tok-alice", SendMessageInput{
		ConversationID: view.ID,
		Body:           "hello",
		Type:           model.MessageTypeText,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input SendMessageInput
	}{
		{"text without body", SendMessageInput{ConversationID: view.ID, Type: model.MessageTypeText}},
		{"file without uri", SendMessageInput{ConversationID: view.ID, Type: model.MessageTypeFile, Body: "f"}},
		{"unknown type", SendMessageInput{ConversationID: view.ID, Type: "VIDEO", Body: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.msgs.Send(ctx, "tok-alice", tt.input)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSendFileMessage(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	sent, err := f.msgs.Send(ctx, "tok-alice", SendMessageInput{
		ConversationID: view.ID,
		Type:           model.MessageTypeFile,
		FileURI:        "s3://bucket/uploads/photo.png",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeFile, sent.Type)
	assert.Equal(t, "s3://bucket/uploads/photo.png", sent.FileURI)
}

func TestSendMessageConversationNotFound(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.msgs.Send(context.Background(), "tok-alice", SendMessageInput{
		ConversationID: "missing",
		Body:           "x",
		Type:           model.MessageTypeText,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessagePublishesBothEvents(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	sub, err := f.bus.Subscribe(ctx, model.TopicMessageSent, model.TopicConversationUpdated)
	require.NoError(t, err)
	defer sub.Close()

	sent, err := f.msgs.Send(ctx, "tok-alice", SendMessageInput{
		ConversationID: view.ID,
		Body:           "hi",
		Type:           model.MessageTypeText,
	})
	require.NoError(t, err)

	// MESSAGE_SENT comes first, then CONVERSATION_UPDATED with the
	// refreshed latest-message pointer and no removed users.
	first := <-sub.Events()
	assert.Equal(t, model.TopicMessageSent, first.Topic)

	second := <-sub.Events()
	require.Equal(t, model.TopicConversationUpdated, second.Topic)

	var updated model.ConversationUpdatedEvent
	require.NoError(t, json.Unmarshal(second.Data, &updated))
	require.NotNil(t, updated.Conversation.LatestMessage)
	assert.Equal(t, sent.ID, updated.Conversation.LatestMessage.ID)
	assert.Empty(t, updated.RemovedUserIDs)
	assert.NotNil(t, updated.RemovedUserIDs)
}

func TestListMessagesRequiresParticipant(t *testing.T) {
	f := newFixture(t, "alice", "bob", "eve")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	_, err = f.msgs.List(ctx, "tok-eve", view.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

// Full read-state walkthrough: creation flags, a send flipping the
// flags, then an explicit read mark.
func TestReadStateScenario(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)
	assert.True(t, f.flag(t, view.ID, "alice"))
	assert.False(t, f.flag(t, view.ID, "bob"))

	sent, err := f.msgs.Send(ctx, "tok-alice", SendMessageInput{
		ConversationID: view.ID,
		Body:           "hi",
		Type:           model.MessageTypeText,
	})
	require.NoError(t, err)
	assert.True(t, f.flag(t, view.ID, "alice"))
	assert.False(t, f.flag(t, view.ID, "bob"))

	updated, err := f.store.FindConversationByID(ctx, view.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LatestMessageID)
	assert.Equal(t, sent.ID, *updated.LatestMessageID)

	require.NoError(t, f.convs.MarkAsRead(ctx, f.users["bob"].ID, view.ID))
	assert.True(t, f.flag(t, view.ID, "bob"))
}
