package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

func testTiming() domain.Timing {
	return domain.Timing{
		RampDuration:         40 * time.Millisecond,
		RevealDuration:       120 * time.Millisecond,
		BlurDuration:         20 * time.Millisecond,
		TypingInactivity:     60 * time.Millisecond,
		TypingStaleness:      5 * time.Second,
		ReadReceiptCap:       100,
		RefreshInterval:      time.Hour,
		RefreshTimeout:       50 * time.Millisecond,
		HandleDrawAttempts:   50,
		ObserverPollInterval: 10 * time.Millisecond,
	}
}

func newIdentity(t *testing.T) string {
	t.Helper()
	key, err := blurchat.GenerateKey()
	require.NoError(t, err)
	addr, err := blurchat.PrivKeyToAddr(key, blurchat.IdentityPrefix)
	require.NoError(t, err)
	require.True(t, blurchat.IsIdentity(addr))
	return addr
}

type mockStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	sets    map[string]int
	failSet error
	failGet error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string][]byte), sets: make(map[string]int)}
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return nil, domain.NotFoundError{Resource: key}
	}
	return append([]byte(nil), v...), nil
}

func (m *mockStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = append([]byte(nil), value...)
	m.sets[key]++
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockStore) setCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[key]
}

type mockDirectory struct {
	mu       sync.Mutex
	snapshot blurchat.DirectorySnapshot
	entries  map[string]blurchat.DirectoryEntry
	err      error
	block    bool
	calls    int
}

func (m *mockDirectory) Snapshot(ctx context.Context) (blurchat.DirectorySnapshot, error) {
	m.mu.Lock()
	m.calls++
	block, snapshot, err := m.block, m.snapshot, m.err
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return blurchat.DirectorySnapshot{}, ctx.Err()
	}
	return snapshot, err
}

func (m *mockDirectory) Lookup(ctx context.Context, handle string) (blurchat.DirectoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[handle]
	if !ok {
		return blurchat.DirectoryEntry{}, domain.NotFoundError{Resource: "handle " + handle}
	}
	return entry, nil
}

func (m *mockDirectory) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockHub connects mockTransports in memory and delivers synchronously.
type mockHub struct {
	mu    sync.Mutex
	peers map[string]*mockTransport
	rooms map[string]map[string]bool
}

func newMockHub() *mockHub {
	return &mockHub{
		peers: make(map[string]*mockTransport),
		rooms: make(map[string]map[string]bool),
	}
}

func (h *mockHub) connect(identity string) *mockTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	tr := &mockTransport{hub: h, identity: identity}
	h.peers[identity] = tr
	return tr
}

type sentPayload struct {
	RoomID  string
	Payload []byte
}

type mockTransport struct {
	hub      *mockHub
	identity string

	mu       sync.Mutex
	sent     []sentPayload
	failSend error
	invites  int
	joins    int

	handlers subscribers[Inbound]
}

func (m *mockTransport) SendPayload(ctx context.Context, roomID string, payload []byte) error {
	m.mu.Lock()
	if m.failSend != nil {
		m.mu.Unlock()
		return m.failSend
	}
	m.sent = append(m.sent, sentPayload{RoomID: roomID, Payload: payload})
	m.mu.Unlock()

	m.hub.mu.Lock()
	var targets []*mockTransport
	for member := range m.hub.rooms[roomID] {
		if member == m.identity {
			continue
		}
		if peer, ok := m.hub.peers[member]; ok {
			targets = append(targets, peer)
		}
	}
	m.hub.mu.Unlock()

	for _, peer := range targets {
		peer.handlers.emit(Inbound{RoomID: roomID, Sender: m.identity, Data: payload})
	}
	return nil
}

func (m *mockTransport) CreateDirectRoom(ctx context.Context, identity string) (string, error) {
	roomID := blurchat.DirectRoomID(m.identity, identity)
	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.hub.rooms[roomID] == nil {
		m.hub.rooms[roomID] = make(map[string]bool)
	}
	m.hub.rooms[roomID][m.identity] = true
	return roomID, nil
}

func (m *mockTransport) CurrentIdentity() (string, bool) {
	return m.identity, m.identity != ""
}

func (m *mockTransport) Join(ctx context.Context, roomID string) error {
	m.mu.Lock()
	m.joins++
	m.mu.Unlock()

	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.hub.rooms[roomID] == nil {
		return errors.New("no such room")
	}
	m.hub.rooms[roomID][m.identity] = true
	return nil
}

func (m *mockTransport) Invite(ctx context.Context, roomID, identity string) error {
	m.mu.Lock()
	m.invites++
	m.mu.Unlock()

	m.hub.mu.Lock()
	defer m.hub.mu.Unlock()
	if m.hub.rooms[roomID] == nil {
		m.hub.rooms[roomID] = make(map[string]bool)
	}
	m.hub.rooms[roomID][identity] = true
	return nil
}

func (m *mockTransport) Subscribe(handler func(Inbound)) func() {
	return m.handlers.add(handler)
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockVault keeps bodies in the clear and counts every Open.
type mockVault struct {
	mu     sync.Mutex
	bodies map[string]string
	opens  int
}

func newMockVault() *mockVault {
	return &mockVault{bodies: make(map[string]string)}
}

func (m *mockVault) Open(messageID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	body, ok := m.bodies[messageID]
	if !ok {
		return "", domain.NotFoundError{Resource: "message " + messageID}
	}
	return body, nil
}

func (m *mockVault) Seal(messageID, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[messageID] = body
	return nil
}

func (m *mockVault) Forget(messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bodies, messageID)
}

func (m *mockVault) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = make(map[string]string)
}

func (m *mockVault) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}
