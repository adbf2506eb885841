package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

type mockPublisher struct {
	published chan string
}

func (m *mockPublisher) Publish(ctx context.Context, handle string) error {
	m.published <- handle
	return nil
}

// connect runs the handshake between two peers.
func connect(t *testing.T, a, b *testPeer) {
	t.Helper()
	ctx := context.Background()
	a.deliver(t, b.identity, blurchat.ContactRequest{FromHandle: a.handle, ToHandle: b.handle, RequestID: "r-" + a.handle})
	_, err := b.session.Handshake.Accept(ctx, "r-"+a.handle)
	require.NoError(t, err)
	require.NoError(t, a.session.Identities.AddMapping(ctx, b.handle, b.identity))
}

func TestSessionMessageRevealAndReceipts(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	alice := newTestPeer(t, hub, nil, "17")
	bob := newTestPeer(t, hub, nil, "32")
	connect(t, alice, bob)

	sent, err := alice.session.SendMessage(ctx, "32", "meet at noon")
	require.NoError(t, err)
	assert.True(t, sent.Outgoing)

	received := bob.session.Messages("")
	require.Len(t, received, 1)
	assert.Equal(t, sent.ID, received[0].ID)
	assert.Equal(t, "17", received[0].FromHandle)

	bob.session.Disclosure.PressStart(sent.ID)
	require.Eventually(t, func() bool {
		return bob.session.Disclosure.Snapshot(sent.ID).State == domain.Revealed
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, "meet at noon", bob.session.Disclosure.Snapshot(sent.ID).Content)

	require.NoError(t, bob.session.MarkRead(ctx, sent.ID))
	assert.True(t, alice.session.Presence.IsReadBy(sent.ID, sent.RoomID, "32"))
	assert.Equal(t, 1, alice.session.Presence.GetReadCount(sent.ID, sent.RoomID))
}

func TestSessionTypingOverTheWire(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	alice := newTestPeer(t, hub, nil, "17")
	bob := newTestPeer(t, hub, nil, "32")
	connect(t, alice, bob)

	room, err := bob.session.RoomFor(ctx, "17")
	require.NoError(t, err)

	require.NoError(t, alice.session.NotifyTyping(ctx, "32", true))
	assert.Equal(t, "typing…", bob.session.Presence.GetTypingText(room, false, "32"))

	require.NoError(t, alice.session.NotifyTyping(ctx, "32", false))
	assert.Empty(t, bob.session.Presence.GetTypingUsers(room))
}

func TestSessionDropsUnauthenticatedPayloads(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	alice := newTestPeer(t, hub, nil, "17")
	bob := newTestPeer(t, hub, nil, "32")
	mallory := newTestPeer(t, hub, nil, "66")
	connect(t, alice, bob)

	mallory.deliver(t, bob.identity, blurchat.Message{MessageID: "m1", FromHandle: "17", Body: "hi"})
	assert.Empty(t, bob.session.Messages(""))

	// unknown payload types are ignored
	room, err := mallory.transport.CreateDirectRoom(ctx, bob.identity)
	require.NoError(t, err)
	require.NoError(t, mallory.transport.SendPayload(ctx, room, []byte(`{"type":"sticker","id":"x"}`)))
	require.NoError(t, mallory.transport.SendPayload(ctx, room, []byte(`not json`)))
	assert.Empty(t, bob.session.Messages(""))
}

func TestSessionSendRequiresContact(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	alice := newTestPeer(t, hub, nil, "17")

	_, err := alice.session.SendMessage(ctx, "32", "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRegister(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	id := newIdentity(t)
	publisher := &mockPublisher{published: make(chan string, 1)}
	s := NewSession(SessionDeps{
		Store:     newMockStore(),
		Transport: hub.connect(id),
		Publisher: publisher,
		Vault:     newMockVault(),
		Timing:    testTiming(),
	})
	require.NoError(t, s.Start(ctx, ""))
	defer s.Logout(ctx)

	handle, err := s.Registry.GenerateAvailableHandle()
	require.NoError(t, err)
	_, err = s.Register(ctx, handle, "alice")
	require.NoError(t, err)

	assert.Equal(t, handle, s.Handle())
	assert.Equal(t, handle, s.Handshake.Self())
	got, err := s.Identities.Resolve(handle)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	select {
	case published := <-publisher.published:
		assert.Equal(t, handle, published)
	case <-time.After(time.Second):
		t.Fatal("handle was not published")
	}
}

func TestSessionLogoutCancelsEverything(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	alice := newTestPeer(t, hub, nil, "17")
	bob := newTestPeer(t, hub, nil, "32")
	connect(t, alice, bob)

	sent, err := alice.session.SendMessage(ctx, "32", "secret")
	require.NoError(t, err)
	require.NoError(t, alice.session.NotifyTyping(ctx, "32", true))

	bob.session.Disclosure.PressStart(sent.ID)
	require.Greater(t, bob.session.PendingTimers(), 0)

	bob.session.Logout(ctx)
	assert.Equal(t, 0, bob.session.PendingTimers())
	assert.Empty(t, bob.session.Messages(""))
	assert.Empty(t, bob.session.Identities.Mappings())
	assert.Empty(t, bob.session.Handshake.Requests())
	_, err = bob.vault.Open(sent.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// idempotent, and nothing is delivered after logout
	bob.session.Logout(ctx)
	_, err = alice.session.SendMessage(ctx, "32", "late")
	require.NoError(t, err)
	assert.Empty(t, bob.session.Messages(""))

	time.Sleep(3 * testTiming().RampDuration)
	assert.Equal(t, domain.Hidden, bob.session.Disclosure.Snapshot(sent.ID).State)
}

func TestSessionLogoutRefusesNewTimers(t *testing.T) {
	ctx := context.Background()
	hub := newMockHub()
	alice := newTestPeer(t, hub, nil, "17")
	bob := newTestPeer(t, hub, nil, "32")
	connect(t, alice, bob)

	sent, err := alice.session.SendMessage(ctx, "32", "secret")
	require.NoError(t, err)
	room, err := bob.session.RoomFor(ctx, "17")
	require.NoError(t, err)

	bob.session.Logout(ctx)

	// a payload handler still in flight when logout ran
	bob.session.Presence.SetTyping(room, "17", false)
	assert.Equal(t, domain.Hidden, bob.session.Disclosure.PressStart(sent.ID))
	require.NoError(t, bob.session.Presence.MarkRead(sent.ID, room, "17"))

	assert.Equal(t, 0, bob.session.PendingTimers())
	assert.Equal(t, 0, bob.session.Presence.PendingTimers())
	assert.Equal(t, 0, bob.session.Disclosure.PendingTimers())
	assert.Empty(t, bob.session.Presence.GetTypingUsers(room))
	assert.Zero(t, bob.session.Presence.GetReadCount(sent.ID, room))
}
