package transport

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/metrics"
	"github.com/totegamma/blurchat/internal/usecase"
)

// publishFunc delivers one frame to one member of a room.
type publishFunc func(ctx context.Context, room, member string, data []byte) error

// router implements the room bookkeeping shared by every broker.
type router struct {
	identity   string
	privateKey string
	publish    publishFunc
	now        func() time.Time

	mu    sync.RWMutex
	rooms map[string]map[string]bool

	hmu      sync.Mutex
	next     int
	handlers map[int]func(usecase.Inbound)
}

func newRouter(privateKey string, publish publishFunc) (*router, error) {
	identity, err := blurchat.PrivKeyToAddr(privateKey, blurchat.IdentityPrefix)
	if err != nil {
		return nil, err
	}
	return &router{
		identity:   identity,
		privateKey: privateKey,
		publish:    publish,
		now:        time.Now,
		rooms:      make(map[string]map[string]bool),
		handlers:   make(map[int]func(usecase.Inbound)),
	}, nil
}

func (r *router) CurrentIdentity() (string, bool) {
	return r.identity, r.identity != ""
}

func (r *router) CreateDirectRoom(ctx context.Context, identity string) (string, error) {
	if !blurchat.IsIdentity(identity) {
		return "", domain.ValidationError{Field: "identity", Reason: identity}
	}
	roomID := blurchat.DirectRoomID(r.identity, identity)
	r.addMembers(roomID, r.identity, identity)
	return roomID, nil
}

// Invite adds identity to the room and tells it who the members are.
func (r *router) Invite(ctx context.Context, roomID, identity string) error {
	if !blurchat.IsIdentity(identity) {
		return domain.ValidationError{Field: "identity", Reason: identity}
	}
	r.addMembers(roomID, r.identity, identity)
	frame := Frame{Kind: KindInvite, Room: roomID, Sender: r.identity, Members: r.members(roomID)}
	return r.send(ctx, frame, []string{identity})
}

// Join announces us to the members of a room we were invited to.
func (r *router) Join(ctx context.Context, roomID string) error {
	members := r.members(roomID)
	if len(members) == 0 {
		return domain.TransportError{Op: "join", Err: errors.New("unknown room " + roomID)}
	}
	r.addMembers(roomID, r.identity)
	return r.send(ctx, Frame{Kind: KindJoin, Room: roomID, Sender: r.identity}, members)
}

func (r *router) SendPayload(ctx context.Context, roomID string, payload []byte) error {
	members := r.members(roomID)
	if len(members) == 0 {
		return domain.TransportError{Op: "send", Err: errors.New("unknown room " + roomID)}
	}
	return r.send(ctx, Frame{Kind: KindPayload, Room: roomID, Sender: r.identity, Payload: payload}, members)
}

func (r *router) Subscribe(handler func(usecase.Inbound)) func() {
	r.hmu.Lock()
	id := r.next
	r.next++
	r.handlers[id] = handler
	r.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.hmu.Lock()
			delete(r.handlers, id)
			r.hmu.Unlock()
		})
	}
}

func (r *router) send(ctx context.Context, frame Frame, to []string) error {
	data, err := sealFrame(frame, r.privateKey)
	if err != nil {
		return domain.TransportError{Op: string(frame.Kind), Err: err}
	}
	for _, member := range to {
		if member == r.identity {
			continue
		}
		if err := r.publish(ctx, frame.Room, member, data); err != nil {
			return domain.TransportError{Op: string(frame.Kind), Err: err}
		}
	}
	return nil
}

// receive handles one frame addressed to us.
func (r *router) receive(data []byte) {
	frame, err := openFrame(data, r.now())
	if err != nil {
		metrics.DroppedPayloads.WithLabelValues("bad_frame").Inc()
		log.Debug().Err(err).Msg("dropping frame")
		return
	}
	if frame.Sender == r.identity {
		return
	}
	// a direct room id is bound to its two members
	if strings.HasPrefix(frame.Room, "dm-") && frame.Room != blurchat.DirectRoomID(r.identity, frame.Sender) {
		metrics.DroppedPayloads.WithLabelValues("bad_frame").Inc()
		log.Debug().Str("room", frame.Room).Str("sender", frame.Sender).Msg("dropping frame for a foreign direct room")
		return
	}

	switch frame.Kind {
	case KindInvite:
		members := []string{frame.Sender}
		for _, m := range frame.Members {
			if blurchat.IsIdentity(m) {
				members = append(members, m)
			}
		}
		r.addMembers(frame.Room, members...)
	case KindJoin:
		r.addMembers(frame.Room, frame.Sender)
	case KindPayload:
		r.addMembers(frame.Room, frame.Sender)
		r.dispatch(usecase.Inbound{RoomID: frame.Room, Sender: frame.Sender, Data: frame.Payload})
	default:
		log.Debug().Str("kind", string(frame.Kind)).Msg("dropping frame of unknown kind")
	}
}

func (r *router) dispatch(in usecase.Inbound) {
	r.hmu.Lock()
	ids := make([]int, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(usecase.Inbound), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.handlers[id])
	}
	r.hmu.Unlock()

	for _, h := range handlers {
		h(in)
	}
}

func (r *router) addMembers(roomID string, members ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]bool)
		r.rooms[roomID] = room
	}
	for _, m := range members {
		room[m] = true
	}
}

func (r *router) members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]string, 0, len(r.rooms[roomID]))
	for m := range r.rooms[roomID] {
		list = append(list, m)
	}
	sort.Strings(list)
	return list
}
