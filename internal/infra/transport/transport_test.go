package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/usecase"
)

type inbox struct {
	mu  sync.Mutex
	got []usecase.Inbound
}

func (i *inbox) add(in usecase.Inbound) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, in)
}

func (i *inbox) all() []usecase.Inbound {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]usecase.Inbound(nil), i.got...)
}

func connect(t *testing.T, hub *Hub) *Loopback {
	t.Helper()
	key, err := blurchat.GenerateKey()
	require.NoError(t, err)
	l, err := hub.Connect(key)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestLoopbackInviteJoinAndSend(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := connect(t, hub)
	bob := connect(t, hub)

	bobInbox := &inbox{}
	bob.Subscribe(bobInbox.add)
	aliceInbox := &inbox{}
	alice.Subscribe(aliceInbox.add)

	aliceID, ok := alice.CurrentIdentity()
	require.True(t, ok)
	bobID, _ := bob.CurrentIdentity()

	room, err := alice.CreateDirectRoom(ctx, bobID)
	require.NoError(t, err)
	assert.Equal(t, blurchat.DirectRoomID(aliceID, bobID), room)

	require.NoError(t, alice.Invite(ctx, room, bobID))
	require.NoError(t, alice.SendPayload(ctx, room, []byte(`{"type":"hello"}`)))

	got := bobInbox.all()
	require.Len(t, got, 1)
	assert.Equal(t, room, got[0].RoomID)
	assert.Equal(t, aliceID, got[0].Sender)
	assert.Equal(t, `{"type":"hello"}`, string(got[0].Data))

	// the invite taught bob the room
	require.NoError(t, bob.Join(ctx, room))
	require.NoError(t, bob.SendPayload(ctx, room, []byte(`{"type":"reply"}`)))
	require.Len(t, aliceInbox.all(), 1)
	assert.Equal(t, bobID, aliceInbox.all()[0].Sender)
}

func TestLoopbackUnknownRoom(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := connect(t, hub)

	err := alice.SendPayload(ctx, "nowhere", []byte("x"))
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.ErrorIs(t, alice.Join(ctx, "nowhere"), domain.ErrTransport)

	_, err = alice.CreateDirectRoom(ctx, "not-an-identity")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoopbackUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := connect(t, hub)
	bob := connect(t, hub)
	bobID, _ := bob.CurrentIdentity()

	box := &inbox{}
	cancel := bob.Subscribe(box.add)
	cancel()
	cancel()

	room, err := alice.CreateDirectRoom(ctx, bobID)
	require.NoError(t, err)
	require.NoError(t, alice.SendPayload(ctx, room, []byte("x")))
	assert.Empty(t, box.all())
}

func TestLoopbackDuplicateIdentity(t *testing.T) {
	hub := NewHub()
	key, err := blurchat.GenerateKey()
	require.NoError(t, err)
	_, err = hub.Connect(key)
	require.NoError(t, err)
	_, err = hub.Connect(key)
	assert.Error(t, err)
}

func TestOpenFrameRejectsForgery(t *testing.T) {
	key, err := blurchat.GenerateKey()
	require.NoError(t, err)
	other, err := blurchat.GenerateKey()
	require.NoError(t, err)
	sender, err := blurchat.PrivKeyToAddr(key, blurchat.IdentityPrefix)
	require.NoError(t, err)

	data, err := sealFrame(Frame{Kind: KindPayload, Room: "r", Sender: sender, Payload: []byte("hi")}, key)
	require.NoError(t, err)

	f, err := openFrame(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), f.Payload)

	// tampered payload
	var tampered Frame
	require.NoError(t, json.Unmarshal(data, &tampered))
	tampered.Payload = []byte("bye")
	raw, err := json.Marshal(tampered)
	require.NoError(t, err)
	_, err = openFrame(raw, time.Now())
	assert.Error(t, err)

	// signed by somebody else
	forged, err := sealFrame(Frame{Kind: KindPayload, Room: "r", Sender: sender}, other)
	require.NoError(t, err)
	_, err = openFrame(forged, time.Now())
	assert.Error(t, err)

	// too old
	_, err = openFrame(data, time.Now().Add(time.Hour))
	assert.Error(t, err)

	_, err = openFrame([]byte("garbage"), time.Now())
	assert.Error(t, err)
}

func TestReceiveDropsSpoofedDirectRoom(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	alice := connect(t, hub)
	bob := connect(t, hub)
	carol := connect(t, hub)
	aliceID, _ := alice.CurrentIdentity()
	bobID, _ := bob.CurrentIdentity()

	box := &inbox{}
	bob.Subscribe(box.add)

	// carol claims the alice/bob direct room
	room := blurchat.DirectRoomID(aliceID, bobID)
	carol.addMembers(room, bobID)
	require.NoError(t, carol.SendPayload(ctx, room, []byte("x")))
	assert.Empty(t, box.all())
}
