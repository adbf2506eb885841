package usecase

import (
	"context"

	"github.com/totegamma/blurchat"
)

// KeyValueStore is the durable cache. Get returns domain.ErrNotFound for
// a missing key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Inbound is one payload delivered by the transport. Sender is the
// identity the transport authenticated.
type Inbound struct {
	RoomID string
	Sender string
	Data   []byte
}

// Transport carries opaque payloads between identities in rooms.
type Transport interface {
	SendPayload(ctx context.Context, roomID string, payload []byte) error
	CreateDirectRoom(ctx context.Context, identity string) (string, error)
	CurrentIdentity() (string, bool)
	Join(ctx context.Context, roomID string) error
	Invite(ctx context.Context, roomID, identity string) error
	Subscribe(handler func(Inbound)) (cancel func())
}

// Directory is the best-effort remote handle directory.
type Directory interface {
	Snapshot(ctx context.Context) (blurchat.DirectorySnapshot, error)
	Lookup(ctx context.Context, handle string) (blurchat.DirectoryEntry, error)
}

// DirectoryPublisher announces the session's own handle to the directory.
type DirectoryPublisher interface {
	Publish(ctx context.Context, handle string) error
}

// ContentSource yields message content on demand. Implementations must
// not hand out a cached plaintext; each call derives it anew.
type ContentSource interface {
	Open(messageID string) (string, error)
}

// DirectoryRepository defines persistence for the directory server.
type DirectoryRepository interface {
	Upsert(ctx context.Context, entry blurchat.DirectoryEntry) error
	Get(ctx context.Context, handle string) (blurchat.DirectoryEntry, error)
	List(ctx context.Context) ([]blurchat.DirectoryEntry, error)
}

// MessageVault keeps message bodies sealed in memory. Open re-derives the
// plaintext on every call.
type MessageVault interface {
	ContentSource
	Seal(messageID, body string) error
	Forget(messageID string)
	Clear()
}
