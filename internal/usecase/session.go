package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/metrics"
)

var tracer = otel.Tracer("blurchat/usecase")

// SessionDeps are the collaborators a session is built from.
type SessionDeps struct {
	Store     KeyValueStore
	Transport Transport
	Directory Directory
	Publisher DirectoryPublisher
	Vault     MessageVault
	Timing    domain.Timing
}

// MessageEvent is emitted for every message sent or received.
type MessageEvent struct {
	Message domain.ChatMessage
}

// Session is the single owner of every component of one logged-in client.
// Start wires it to the transport; Logout tears everything down.
type Session struct {
	transport Transport
	publisher DirectoryPublisher
	vault     MessageVault
	now       func() time.Time

	Identities *IdentityMap
	Presence   *PresenceStore
	Disclosure *Disclosure
	Handshake  *Handshake
	Registry   *Registry

	mu       sync.RWMutex
	handle   string
	started  bool
	closed   bool
	unsub    func()
	messages map[string]domain.ChatMessage

	events subscribers[MessageEvent]
}

func NewSession(deps SessionDeps) *Session {
	identities := NewIdentityMap(deps.Store, deps.Directory, deps.Timing)
	return &Session{
		transport:  deps.Transport,
		publisher:  deps.Publisher,
		vault:      deps.Vault,
		now:        time.Now,
		Identities: identities,
		Presence:   NewPresenceStore(deps.Timing),
		Disclosure: NewDisclosure(deps.Timing, deps.Vault),
		Handshake:  NewHandshake(deps.Store, identities, deps.Transport, deps.Directory, deps.Timing),
		Registry:   NewRegistry(deps.Store, identities, deps.Transport.CurrentIdentity, deps.Timing),
		messages:   make(map[string]domain.ChatMessage),
	}
}

// Start loads the durable caches, subscribes to the transport and arms the
// directory refresh. handle may be empty for a session that still has to
// register.
func (s *Session) Start(ctx context.Context, handle string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.Identities.Load(ctx)
	s.Handshake.Load(ctx)
	s.Registry.Load(ctx)

	if handle != "" {
		if !blurchat.IsHandle(handle) {
			return domain.ValidationError{Field: "handle", Reason: handle}
		}
		s.setHandle(handle)
	}

	unsub := s.transport.Subscribe(func(in Inbound) {
		s.dispatch(context.Background(), in)
	})
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	s.Identities.StartAutoRefresh()
	log.Info().Str("handle", handle).Msg("session started")
	return nil
}

func (s *Session) Handle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Identity is the identity the transport is logged in as.
func (s *Session) Identity() string {
	identity, _ := s.transport.CurrentIdentity()
	return identity
}

func (s *Session) setHandle(handle string) {
	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	s.Handshake.SetSelf(handle)
}

// Register claims handle and label, maps the handle to our own identity
// and announces it to the directory in the background.
func (s *Session) Register(ctx context.Context, handle, label string) (domain.RegisteredUser, error) {
	identity, ok := s.transport.CurrentIdentity()
	if !ok {
		return domain.RegisteredUser{}, domain.TransportError{Op: "identity", Err: errors.New("transport is not logged in")}
	}

	user, err := s.Registry.RegisterUser(ctx, handle, label)
	if err != nil {
		return domain.RegisteredUser{}, err
	}
	if err := s.Identities.AddMapping(ctx, handle, identity); err != nil {
		log.Warn().Err(err).Str("handle", handle).Msg("failed to map own handle")
	}
	s.setHandle(handle)

	if s.publisher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.publisher.Publish(ctx, handle); err != nil {
				log.Warn().Err(err).Str("handle", handle).Msg("failed to publish handle to directory")
			}
		}()
	}
	return user, nil
}

// SendMessage sends body to a connected handle and keeps a sealed copy so
// our own message can be revealed too.
func (s *Session) SendMessage(ctx context.Context, toHandle, body string) (domain.ChatMessage, error) {
	self := s.Handle()
	if self == "" {
		return domain.ChatMessage{}, domain.ValidationError{Field: "session", Reason: "no handle registered"}
	}
	roomID, err := s.roomFor(ctx, toHandle)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		FromHandle: self,
		Outgoing:   true,
		At:         s.now(),
	}
	payload, err := blurchat.EncodePayload(blurchat.Message{
		MessageID:  msg.ID,
		FromHandle: self,
		Body:       body,
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if err := s.transport.SendPayload(ctx, roomID, payload); err != nil {
		return domain.ChatMessage{}, asTransportError("send", err)
	}
	if err := s.vault.Seal(msg.ID, body); err != nil {
		log.Warn().Err(err).Str("message", msg.ID).Msg("failed to seal outgoing message")
	}
	s.record(msg)
	return msg, nil
}

// NotifyTyping tells a connected handle that we started or stopped typing.
func (s *Session) NotifyTyping(ctx context.Context, toHandle string, active bool) error {
	roomID, err := s.roomFor(ctx, toHandle)
	if err != nil {
		return err
	}
	payload, err := blurchat.EncodePayload(blurchat.Typing{FromHandle: s.Handle(), Active: active})
	if err != nil {
		return err
	}
	if err := s.transport.SendPayload(ctx, roomID, payload); err != nil {
		return asTransportError("send", err)
	}
	return nil
}

// MarkRead sends a read receipt for a received message to its author.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	s.mu.RLock()
	msg, ok := s.messages[messageID]
	s.mu.RUnlock()
	if !ok {
		return domain.NotFoundError{Resource: "message " + messageID}
	}
	if msg.Outgoing {
		return nil
	}

	payload, err := blurchat.EncodePayload(blurchat.ReadReceipt{FromHandle: s.Handle(), MessageID: messageID})
	if err != nil {
		return err
	}
	if err := s.transport.SendPayload(ctx, msg.RoomID, payload); err != nil {
		return asTransportError("send", err)
	}
	return nil
}

// RoomFor returns the direct room shared with a connected handle.
func (s *Session) RoomFor(ctx context.Context, handle string) (string, error) {
	return s.roomFor(ctx, handle)
}

func (s *Session) roomFor(ctx context.Context, handle string) (string, error) {
	if !blurchat.IsHandle(handle) {
		return "", domain.ValidationError{Field: "handle", Reason: handle}
	}
	mapping, ok := s.Identities.Lookup(handle)
	if !ok || mapping.Origin != domain.OriginLocal {
		return "", domain.NotFoundError{Resource: "contact " + handle}
	}
	roomID, err := s.transport.CreateDirectRoom(ctx, mapping.Identity)
	if err != nil {
		return "", asTransportError("create room", err)
	}
	return roomID, nil
}

// Messages lists the messages of a room, oldest first. An empty roomID
// lists every room.
func (s *Session) Messages(roomID string) []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]domain.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		if roomID == "" || m.RoomID == roomID {
			list = append(list, m)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].At.Equal(list[j].At) {
			return list[i].ID < list[j].ID
		}
		return list[i].At.Before(list[j].At)
	})
	return list
}

func (s *Session) SubscribeMessages(fn func(MessageEvent)) func() {
	return s.events.add(fn)
}

func (s *Session) record(msg domain.ChatMessage) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.messages[msg.ID] = msg
	s.mu.Unlock()
	s.events.emit(MessageEvent{Message: msg})
}

// dispatch routes one inbound payload. Anything that does not decode, or
// claims a handle its sender does not own, is dropped.
func (s *Session) dispatch(ctx context.Context, in Inbound) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	payload, err := blurchat.DecodePayload(in.Data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, blurchat.ErrUnknownPayload) {
			reason = "unknown"
		}
		metrics.DroppedPayloads.WithLabelValues(reason).Inc()
		log.Debug().Err(err).Str("room", in.RoomID).Msg("dropping inbound payload")
		return
	}

	switch p := payload.(type) {
	case blurchat.ContactRequest:
		s.Handshake.HandleRequest(ctx, in, p)
	case blurchat.ContactAccepted:
		s.Handshake.HandleAccepted(ctx, in, p)
	case blurchat.Message:
		if !s.authentic(in, p.FromHandle) {
			return
		}
		if err := s.vault.Seal(p.MessageID, p.Body); err != nil {
			log.Warn().Err(err).Str("message", p.MessageID).Msg("failed to seal inbound message")
			return
		}
		s.Presence.StopTyping(in.RoomID, p.FromHandle, false)
		s.record(domain.ChatMessage{
			ID:         p.MessageID,
			RoomID:     in.RoomID,
			FromHandle: p.FromHandle,
			At:         s.now(),
		})
	case blurchat.Typing:
		if !s.authentic(in, p.FromHandle) {
			return
		}
		if p.Active {
			s.Presence.SetTyping(in.RoomID, p.FromHandle, p.Group)
		} else {
			s.Presence.StopTyping(in.RoomID, p.FromHandle, p.Group)
		}
	case blurchat.ReadReceipt:
		if !s.authentic(in, p.FromHandle) {
			return
		}
		if err := s.Presence.MarkRead(p.MessageID, in.RoomID, p.FromHandle); err != nil {
			log.Debug().Err(err).Msg("dropping read receipt")
		}
	}
}

// authentic reports whether handle is a contact mapped to the sender.
func (s *Session) authentic(in Inbound, handle string) bool {
	mapping, ok := s.Identities.Lookup(handle)
	if ok && mapping.Origin == domain.OriginLocal && mapping.Identity == in.Sender {
		return true
	}
	metrics.DroppedPayloads.WithLabelValues("unauthenticated").Inc()
	log.Debug().Str("handle", handle).Str("sender", in.Sender).Msg("payload from a sender that is not a contact")
	return false
}

// PendingTimers counts every timer the session still owns.
func (s *Session) PendingTimers() int {
	return s.Presence.PendingTimers() + s.Disclosure.PendingTimers()
}

// Logout cancels every timer and clears every in-memory store. Calling it
// again is a no-op.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	handle := s.handle
	s.messages = make(map[string]domain.ChatMessage)
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if handle != "" {
		if err := s.Registry.SetOnline(ctx, handle, false); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("failed to mark user offline")
		}
	}

	s.Identities.Close()
	s.Presence.Close()
	s.Disclosure.Close()
	s.vault.Clear()
	s.Handshake.Reset()
	s.Registry.Reset()
	s.Identities.Reset()
	s.events.clear()

	log.Info().Str("handle", handle).Msg("session closed")
}
