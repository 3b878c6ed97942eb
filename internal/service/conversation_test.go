package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink-im/chat-platform/internal/auth"
	"github.com/wavelink-im/chat-platform/internal/bus"
	"github.com/wavelink-im/chat-platform/internal/model"
	"github.com/wavelink-im/chat-platform/internal/store"
	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// staticResolver maps credentials to pre-seeded users.
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

// fixture wires the services against the in-memory store and bus with
// one user (and credential "tok-<username>") per given username.
type fixture struct {
	store    *store.Memory
	bus      *bus.Memory
	resolver *staticResolver
	convs    *ConversationService
	msgs     *MessageService
	users    map[string]*model.User
}

func newFixture(t *testing.T, usernames ...string) *fixture {
	t.Helper()

	st := store.NewMemory()
	resolver := &staticResolver{users: make(map[string]*model.User)}
	users := make(map[string]*model.User, len(usernames))
	for _, name := range usernames {
		user, err := st.UpsertUserByEmail(context.Background(), model.User{
			Username: name,
			Email:    name + "@example.com",
		})
		require.NoError(t, err)
		resolver.users["tok-"+name] = user
		users[name] = user
	}

	b := bus.NewMemory()
	log := logger.Nop()
	return &fixture{
		store:    st,
		bus:      b,
		resolver: resolver,
		convs:    NewConversationService(st, b, resolver, log),
		msgs:     NewMessageService(st, b, resolver, log),
		users:    users,
	}
}

func (f *fixture) flag(t *testing.T, conversationID, username string) bool {
	t.Helper()
	p, err := f.store.FindParticipantByUserAndConversation(context.Background(), f.users[username].ID, conversationID)
	require.NoError(t, err)
	return p.HasSeenLatestMessage
}

func TestCreateConversationCreatorSeen(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)
	require.Len(t, view.Participants, 2)

	assert.True(t, f.flag(t, view.ID, "alice"))
	assert.False(t, f.flag(t, view.ID, "bob"))
}

func TestCreateConversationDeduplicatesParticipants(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	// Creator listed twice and bob listed twice still yields one row each.
	view, err := f.convs.Create(ctx, "tok-alice", []string{
		f.users["alice"].ID,
		f.users["bob"].ID,
		f.users["bob"].ID,
	})
	require.NoError(t, err)
	assert.Len(t, view.Participants, 2)
}

func TestCreateConversationRejectsEmptyList(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.convs.Create(context.Background(), "tok-alice", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateConversationRejectsUnknownParticipant(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.convs.Create(context.Background(), "tok-alice", []string{"no-such-user"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateConversationInvalidActor(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.convs.Create(context.Background(), "bogus", []string{"someone"})
	assert.ErrorIs(t, err, ErrInvalidActor)
}

func TestCreateConversationPublishesCreated(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	sub, err := f.bus.Subscribe(ctx, model.TopicConversationCreated)
	require.NoError(t, err)
	defer sub.Close()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	ev := <-sub.Events()
	assert.Equal(t, model.TopicConversationCreated, ev.Topic)
	assert.Contains(t, string(ev.Data), view.ID)
}

func TestMarkAsReadIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	require.NoError(t, f.convs.MarkAsRead(ctx, f.users["bob"].ID, view.ID))
	first := f.flag(t, view.ID, "bob")

	require.NoError(t, f.convs.MarkAsRead(ctx, f.users["bob"].ID, view.ID))
	assert.Equal(t, first, f.flag(t, view.ID, "bob"))
	assert.True(t, first)
}

func TestMarkAsReadMissingRowSucceeds(t *testing.T) {
	f := newFixture(t, "alice")

	// No participant row matches; the call is a successful no-op.
	assert.NoError(t, f.convs.MarkAsRead(context.Background(), f.users["alice"].ID, "no-such-conversation"))
}

func TestDeleteConversationCascadesAndPublishesSnapshot(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID})
	require.NoError(t, err)

	_, err = f.msgs.Send(ctx, "tok-alice", SendMessageInput{
		ConversationID: view.ID,
		Body:           "bye",
		Type:           model.MessageTypeText,
	})
	require.NoError(t, err)

	sub, err := f.bus.Subscribe(ctx, model.TopicConversationDeleted)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.convs.Delete(ctx, "tok-alice", view.ID))

	_, err = f.store.FindConversationByID(ctx, view.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.msgs.List(ctx, "tok-alice", view.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The deleted event carries the pre-delete snapshot, participants
	// included, so filters can still route it.
	ev := <-sub.Events()
	assert.Equal(t, model.TopicConversationDeleted, ev.Topic)
	assert.Contains(t, string(ev.Data), f.users["bob"].ID)
}

func TestDeleteConversationNotFound(t *testing.T) {
	f := newFixture(t, "alice")

	err := f.convs.Delete(context.Background(), "tok-alice", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateParticipantsIgnoresNonMembers(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	ctx := context.Background()

	view, err := f.convs.Create(ctx, "tok-alice", []string{f.users["bob"].ID, f.users["carol"].ID})
	require.NoError(t, err)

	sub, err := f.bus.Subscribe(ctx, model.TopicConversationUpdated)
	require.NoError(t, err)
	defer sub.Close()

	removed, err := f.convs.UpdateParticipants(ctx, "tok-alice", view.ID, []string{
		f.users["bob"].ID,
		"zed-not-a-member",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{f.users["bob"].ID}, removed)

	remaining, err := f.store.FindParticipantsByConversation(ctx, view.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	ev := <-sub.Events()
	assert.Equal(t, model.TopicConversationUpdated, ev.Topic)
	assert.Contains(t, string(ev.Data), f.users["bob"].ID)
	assert.NotContains(t, string(ev.Data), "zed-not-a-member")
}
