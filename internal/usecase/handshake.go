package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/metrics"
)

// HandshakeEvent is emitted whenever a stored request changes.
type HandshakeEvent struct {
	Request domain.ContactRequest
}

// Handshake runs the request/accept/reject exchange. Requests are kept
// by id on both ends and persisted under domain.KeyContactRequests.
type Handshake struct {
	store      KeyValueStore
	identities *IdentityMap
	transport  Transport
	directory  Directory
	timing     domain.Timing
	now        func() time.Time

	// serializes accept/reject so a request is mutated by one caller at a time
	opMu      sync.Mutex
	persistMu sync.Mutex

	mu       sync.RWMutex
	self     string
	requests map[string]domain.ContactRequest

	events subscribers[HandshakeEvent]
}

func NewHandshake(store KeyValueStore, identities *IdentityMap, transport Transport, directory Directory, timing domain.Timing) *Handshake {
	return &Handshake{
		store:      store,
		identities: identities,
		transport:  transport,
		directory:  directory,
		timing:     timing,
		now:        time.Now,
		requests:   make(map[string]domain.ContactRequest),
	}
}

// SetSelf sets the handle inbound requests must be addressed to.
func (h *Handshake) SetSelf(handle string) {
	h.mu.Lock()
	h.self = handle
	h.mu.Unlock()
}

func (h *Handshake) Self() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.self
}

// Load restores stored requests. Unreadable data leaves the list empty.
func (h *Handshake) Load(ctx context.Context) {
	requests := make(map[string]domain.ContactRequest)

	raw, err := h.store.Get(ctx, domain.KeyContactRequests)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("failed to read contact requests, starting empty")
	default:
		var list []domain.ContactRequest
		if err := json.Unmarshal(raw, &list); err != nil {
			log.Warn().Err(err).Msg("contact request cache is corrupt, starting empty")
		} else {
			for _, req := range list {
				if req.ID != "" {
					requests[req.ID] = req
				}
			}
		}
	}

	h.mu.Lock()
	h.requests = requests
	h.mu.Unlock()
}

// SendRequest asks toHandle to connect. A handle that is already connected
// short-circuits without touching the transport.
func (h *Handshake) SendRequest(ctx context.Context, toHandle, message string) (domain.SendResult, error) {
	ctx, span := tracer.Start(ctx, "Handshake.SendRequest", trace.WithAttributes(attribute.String("to", toHandle)))
	defer span.End()

	if !blurchat.IsHandle(toHandle) {
		return domain.SendResult{}, domain.ValidationError{Field: "handle", Reason: toHandle}
	}
	self := h.Self()
	if self == "" {
		return domain.SendResult{}, domain.ValidationError{Field: "session", Reason: "no handle registered"}
	}
	if toHandle == self {
		return domain.SendResult{}, domain.ValidationError{Field: "handle", Reason: "cannot send a request to yourself"}
	}
	if h.identities.IsConnected(toHandle) {
		return domain.SendResult{AlreadyConnected: true}, nil
	}

	fromIdentity, ok := h.transport.CurrentIdentity()
	if !ok {
		return domain.SendResult{}, domain.TransportError{Op: "identity", Err: errors.New("transport is not logged in")}
	}

	peer, err := h.peerIdentity(ctx, toHandle)
	if err != nil {
		span.RecordError(err)
		return domain.SendResult{}, err
	}
	if peer == fromIdentity {
		return domain.SendResult{}, domain.ValidationError{Field: "handle", Reason: "cannot send a request to yourself"}
	}

	roomID, err := h.transport.CreateDirectRoom(ctx, peer)
	if err != nil {
		span.RecordError(err)
		return domain.SendResult{}, asTransportError("create room", err)
	}
	if err := h.transport.Invite(ctx, roomID, peer); err != nil {
		span.RecordError(err)
		return domain.SendResult{}, asTransportError("invite", err)
	}

	requestID := uuid.NewString()
	payload, err := blurchat.EncodePayload(blurchat.ContactRequest{
		FromHandle: self,
		ToHandle:   toHandle,
		RequestID:  requestID,
		Message:    message,
	})
	if err != nil {
		return domain.SendResult{}, err
	}
	if err := h.transport.SendPayload(ctx, roomID, payload); err != nil {
		span.RecordError(err)
		return domain.SendResult{}, asTransportError("send", err)
	}
	metrics.HandshakePayloads.WithLabelValues(blurchat.PayloadContactRequest, "out").Inc()

	req := domain.ContactRequest{
		ID:           requestID,
		FromHandle:   self,
		FromIdentity: fromIdentity,
		ToHandle:     toHandle,
		ToIdentity:   peer,
		RoomID:       roomID,
		CreatedAt:    h.now(),
		Status:       domain.RequestPending,
		Direction:    domain.DirectionOutgoing,
		Message:      message,
	}
	h.put(ctx, req)

	log.Info().Str("request", requestID).Str("to", toHandle).Msg("contact request sent")
	return domain.SendResult{RequestID: requestID}, nil
}

// peerIdentity finds the identity behind a handle that has no local
// mapping: a cached directory entry first, then a directory lookup.
func (h *Handshake) peerIdentity(ctx context.Context, handle string) (string, error) {
	if mapping, ok := h.identities.Lookup(handle); ok {
		return mapping.Identity, nil
	}
	if h.directory == nil {
		return "", domain.NotFoundError{Resource: "handle " + handle}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, h.timing.RefreshTimeout)
	defer cancel()

	entry, err := h.directory.Lookup(lookupCtx, handle)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Str("handle", handle).Msg("directory lookup failed")
		}
		return "", domain.NotFoundError{Resource: "handle " + handle}
	}
	if entry.Handle != handle || !blurchat.IsIdentity(entry.Identity) {
		return "", domain.ValidationError{Field: "directory entry", Reason: "malformed entry for " + handle}
	}
	h.identities.AdoptRemote(ctx, entry)
	return entry.Identity, nil
}

// HandleRequest stores an inbound request. Requests addressed to another
// handle, or replays of a request that was already decided, are dropped.
// It reports whether the request was stored.
func (h *Handshake) HandleRequest(ctx context.Context, in Inbound, p blurchat.ContactRequest) bool {
	self := h.Self()
	if self == "" || p.ToHandle != self {
		metrics.DroppedPayloads.WithLabelValues("foreign").Inc()
		log.Debug().Str("request", p.RequestID).Str("to", p.ToHandle).Msg("ignoring request addressed to another handle")
		return false
	}

	h.mu.RLock()
	existing, ok := h.requests[p.RequestID]
	h.mu.RUnlock()
	if ok && (existing.Final() || existing.Direction == domain.DirectionOutgoing) {
		metrics.DroppedPayloads.WithLabelValues("stale").Inc()
		return false
	}

	toIdentity, _ := h.transport.CurrentIdentity()
	req := domain.ContactRequest{
		ID:           p.RequestID,
		FromHandle:   p.FromHandle,
		FromIdentity: in.Sender,
		ToHandle:     p.ToHandle,
		ToIdentity:   toIdentity,
		RoomID:       in.RoomID,
		CreatedAt:    h.now(),
		Status:       domain.RequestPending,
		Direction:    domain.DirectionIncoming,
		Message:      p.Message,
	}
	if ok {
		req.CreatedAt = existing.CreatedAt
	}
	h.put(ctx, req)

	metrics.HandshakePayloads.WithLabelValues(blurchat.PayloadContactRequest, "in").Inc()
	return true
}

// Accept marks an incoming request accepted, maps the requester and
// answers with contact_accepted. Accepting twice is a no-op. A mapping
// conflict does not fail the accept; it is returned in the result.
func (h *Handshake) Accept(ctx context.Context, requestID string) (domain.AcceptResult, error) {
	ctx, span := tracer.Start(ctx, "Handshake.Accept", trace.WithAttributes(attribute.String("request", requestID)))
	defer span.End()

	h.opMu.Lock()
	defer h.opMu.Unlock()

	req, err := h.incoming(requestID)
	if err != nil {
		return domain.AcceptResult{}, err
	}
	switch req.Status {
	case domain.RequestAccepted:
		return domain.AcceptResult{Request: req}, nil
	case domain.RequestRejected:
		return domain.AcceptResult{}, domain.ConflictError{Resource: "request", Key: requestID}
	}

	result := domain.AcceptResult{}
	if err := h.identities.AddMapping(ctx, req.FromHandle, req.FromIdentity); err != nil {
		log.Warn().Err(err).Str("request", requestID).Str("handle", req.FromHandle).Msg("accepted request conflicts with identity map")
		result.MappingConflict = err
	}

	payload, err := blurchat.EncodePayload(blurchat.ContactAccepted{
		FromHandle: req.ToHandle,
		ToHandle:   req.FromHandle,
		RequestID:  req.ID,
	})
	if err != nil {
		return domain.AcceptResult{}, err
	}
	if err := h.transport.Join(ctx, req.RoomID); err != nil {
		span.RecordError(err)
		return domain.AcceptResult{}, asTransportError("join", err)
	}
	if err := h.transport.SendPayload(ctx, req.RoomID, payload); err != nil {
		span.RecordError(err)
		return domain.AcceptResult{}, asTransportError("send", err)
	}
	metrics.HandshakePayloads.WithLabelValues(blurchat.PayloadContactAccepted, "out").Inc()

	req.Status = domain.RequestAccepted
	h.put(ctx, req)
	result.Request = req

	log.Info().Str("request", requestID).Str("from", req.FromHandle).Msg("contact request accepted")
	return result, nil
}

// Reject marks an incoming request rejected. The requester is not told.
func (h *Handshake) Reject(ctx context.Context, requestID string) (domain.ContactRequest, error) {
	ctx, span := tracer.Start(ctx, "Handshake.Reject", trace.WithAttributes(attribute.String("request", requestID)))
	defer span.End()

	h.opMu.Lock()
	defer h.opMu.Unlock()

	req, err := h.incoming(requestID)
	if err != nil {
		return domain.ContactRequest{}, err
	}
	switch req.Status {
	case domain.RequestRejected:
		return req, nil
	case domain.RequestAccepted:
		return domain.ContactRequest{}, domain.ConflictError{Resource: "request", Key: requestID}
	}

	req.Status = domain.RequestRejected
	h.put(ctx, req)
	return req, nil
}

// HandleAccepted completes an outgoing request on the requester side and
// maps the acceptor's handle to the identity that sent the answer.
func (h *Handshake) HandleAccepted(ctx context.Context, in Inbound, p blurchat.ContactAccepted) bool {
	if p.ToHandle != h.Self() {
		metrics.DroppedPayloads.WithLabelValues("foreign").Inc()
		return false
	}

	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.RLock()
	req, ok := h.requests[p.RequestID]
	h.mu.RUnlock()
	if !ok || req.Direction != domain.DirectionOutgoing || req.ToHandle != p.FromHandle {
		metrics.DroppedPayloads.WithLabelValues("unknown_request").Inc()
		log.Debug().Str("request", p.RequestID).Msg("ignoring acceptance of unknown request")
		return false
	}
	if req.ToIdentity != "" && req.ToIdentity != in.Sender {
		metrics.DroppedPayloads.WithLabelValues("unauthenticated").Inc()
		log.Warn().Str("request", p.RequestID).Str("sender", in.Sender).Msg("acceptance sent by unexpected identity")
		return false
	}
	if req.Status != domain.RequestPending {
		return false
	}

	metrics.HandshakePayloads.WithLabelValues(blurchat.PayloadContactAccepted, "in").Inc()

	if err := h.identities.AddMapping(ctx, p.FromHandle, in.Sender); err != nil {
		log.Warn().Err(err).Str("handle", p.FromHandle).Msg("acceptance conflicts with identity map")
	}

	req.Status = domain.RequestAccepted
	req.ToIdentity = in.Sender
	h.put(ctx, req)
	return true
}

func (h *Handshake) incoming(requestID string) (domain.ContactRequest, error) {
	h.mu.RLock()
	req, ok := h.requests[requestID]
	h.mu.RUnlock()
	if !ok {
		return domain.ContactRequest{}, domain.NotFoundError{Resource: "request " + requestID}
	}
	if req.Direction != domain.DirectionIncoming {
		return domain.ContactRequest{}, domain.ValidationError{Field: "request", Reason: "only the addressed recipient can decide a request"}
	}
	return req, nil
}

// Get returns a copy of one stored request.
func (h *Handshake) Get(requestID string) (domain.ContactRequest, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	req, ok := h.requests[requestID]
	if !ok {
		return domain.ContactRequest{}, domain.NotFoundError{Resource: "request " + requestID}
	}
	return req, nil
}

// Pending lists incoming requests still waiting for a decision, oldest first.
func (h *Handshake) Pending() []domain.ContactRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var list []domain.ContactRequest
	for _, req := range h.requests {
		if req.Direction == domain.DirectionIncoming && req.Status == domain.RequestPending && req.ToHandle == h.self {
			list = append(list, req)
		}
	}
	sortRequests(list)
	return list
}

func (h *Handshake) PendingCount() int {
	return len(h.Pending())
}

// Requests lists every stored request, oldest first.
func (h *Handshake) Requests() []domain.ContactRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listLocked()
}

func (h *Handshake) Subscribe(fn func(HandshakeEvent)) func() {
	return h.events.add(fn)
}

// Reset drops the in-memory requests. The durable copy is kept.
func (h *Handshake) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = make(map[string]domain.ContactRequest)
	h.self = ""
}

func (h *Handshake) put(ctx context.Context, req domain.ContactRequest) {
	h.mu.Lock()
	h.requests[req.ID] = req
	h.mu.Unlock()

	h.save(ctx)
	h.events.emit(HandshakeEvent{Request: req})
}

func (h *Handshake) listLocked() []domain.ContactRequest {
	list := make([]domain.ContactRequest, 0, len(h.requests))
	for _, req := range h.requests {
		list = append(list, req)
	}
	sortRequests(list)
	return list
}

func (h *Handshake) save(ctx context.Context) {
	h.persistMu.Lock()
	defer h.persistMu.Unlock()

	raw, err := json.Marshal(h.Requests())
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode contact requests")
		return
	}
	if err := h.store.Set(ctx, domain.KeyContactRequests, raw); err != nil {
		log.Warn().Err(err).Msg("failed to persist contact requests")
	}
}

func sortRequests(list []domain.ContactRequest) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func asTransportError(op string, err error) error {
	if errors.Is(err, domain.ErrTransport) {
		return err
	}
	return domain.TransportError{Op: op, Err: err}
}
