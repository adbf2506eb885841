package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

const (
	MinLabelLength = 2
	MaxLabelLength = 20
)

// RegistryEvent is emitted when a registered user or a nickname changes.
type RegistryEvent struct {
	Handle string
	User   *domain.RegisteredUser
}

// Registry owns handle allocation, registered users and nicknames. The
// whole user list lives under one key so a registration commits in a
// single write.
type Registry struct {
	store      KeyValueStore
	identities *IdentityMap
	identity   func() (string, bool)
	timing     domain.Timing
	now        func() time.Time
	draw       func(n int) int

	commitMu sync.Mutex

	mu        sync.RWMutex
	users     map[string]domain.RegisteredUser
	reserved  string // at most one outstanding allocation
	nicknames map[string]string

	events subscribers[RegistryEvent]
}

// NewRegistry builds a registry. identity reports the session's own
// transport identity, used to tell our own mapping from a foreign one.
func NewRegistry(store KeyValueStore, identities *IdentityMap, identity func() (string, bool), timing domain.Timing) *Registry {
	return &Registry{
		store:      store,
		identities: identities,
		identity:   identity,
		timing:     timing,
		now:        time.Now,
		draw:       rand.Intn,
		users:      make(map[string]domain.RegisteredUser),
		nicknames:  make(map[string]string),
	}
}

// Load restores the registry and nicknames. Unreadable keys degrade to empty.
func (r *Registry) Load(ctx context.Context) {
	users := make(map[string]domain.RegisteredUser)
	var list []domain.RegisteredUser
	if r.read(ctx, domain.KeyRegistry, &list) {
		for _, u := range list {
			if blurchat.IsHandle(u.Handle) {
				users[u.Handle] = u
			}
		}
	}

	nicknames := make(map[string]string)
	if !r.read(ctx, domain.KeyNicknames, &nicknames) {
		nicknames = make(map[string]string)
	}

	r.mu.Lock()
	r.users = users
	r.nicknames = nicknames
	r.mu.Unlock()
}

func (r *Registry) read(ctx context.Context, key string, v any) bool {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to read registry data, starting empty")
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("registry data is corrupt, starting empty")
		return false
	}
	return true
}

// GenerateAvailableHandle draws random handles until it finds one that is
// neither registered nor mapped. The handle is reserved for a following
// RegisterUser and replaces any earlier reservation.
func (r *Registry) GenerateAvailableHandle() (string, error) {
	attempts := r.timing.HandleDrawAttempts
	if attempts <= 0 {
		attempts = 1
	}
	span := blurchat.MaxHandle - blurchat.MinHandle + 1

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reserved = ""
	for i := 0; i < attempts; i++ {
		handle := blurchat.FormatHandle(blurchat.MinHandle + r.draw(span))
		if _, ok := r.users[handle]; ok {
			continue
		}
		if r.identities != nil {
			if _, ok := r.identities.Lookup(handle); ok {
				continue
			}
		}
		r.reserved = handle
		return handle, nil
	}
	return "", domain.ErrHandlesExhausted
}

// Reserved returns the handle held by the last allocation, if any.
func (r *Registry) Reserved() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reserved, r.reserved != ""
}

// ValidateLabel checks length and character set of a display label.
func ValidateLabel(label string) error {
	if len(label) < MinLabelLength || len(label) > MaxLabelLength {
		return domain.ValidationError{Field: "label", Reason: "must be 2 to 20 characters"}
	}
	for i, c := range label {
		alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if i == 0 && !alnum {
			return domain.ValidationError{Field: "label", Reason: "must start with a letter or digit"}
		}
		if !alnum && c != '_' && c != ' ' && c != '.' && c != '-' {
			return domain.ValidationError{Field: "label", Reason: "contains unsupported characters"}
		}
	}
	return nil
}

// RegisterUser claims a pre-allocated handle together with a label. Both
// become registered in one commit or neither does.
func (r *Registry) RegisterUser(ctx context.Context, handle, label string) (domain.RegisteredUser, error) {
	ctx, span := tracer.Start(ctx, "Registry.RegisterUser", trace.WithAttributes(attribute.String("handle", handle)))
	defer span.End()

	if !blurchat.IsHandle(handle) {
		return domain.RegisteredUser{}, domain.ValidationError{Field: "handle", Reason: handle}
	}
	if err := ValidateLabel(label); err != nil {
		return domain.RegisteredUser{}, err
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.RLock()
	reserved := r.reserved == handle
	_, taken := r.users[handle]
	labelTaken := r.labelTakenLocked(label)
	next := make([]domain.RegisteredUser, 0, len(r.users)+1)
	for _, u := range r.users {
		next = append(next, u)
	}
	r.mu.RUnlock()

	switch {
	case taken:
		return domain.RegisteredUser{}, domain.ConflictError{Resource: "handle", Key: handle}
	case !reserved:
		return domain.RegisteredUser{}, domain.ValidationError{Field: "handle", Reason: "handle " + handle + " was not allocated"}
	case labelTaken:
		return domain.RegisteredUser{}, domain.ConflictError{Resource: "label", Key: label}
	}
	if err := r.checkMapping(handle); err != nil {
		return domain.RegisteredUser{}, err
	}

	user := domain.RegisteredUser{
		Handle:       handle,
		Label:        label,
		RegisteredAt: r.now(),
		IsOnline:     true,
	}
	next = append(next, user)
	sortUsers(next)

	raw, err := json.Marshal(next)
	if err != nil {
		return domain.RegisteredUser{}, pkgerrors.Wrap(err, "failed to encode registry")
	}
	if err := r.store.Set(ctx, domain.KeyRegistry, raw); err != nil {
		span.RecordError(err)
		return domain.RegisteredUser{}, pkgerrors.Wrap(err, "failed to commit registry")
	}

	r.mu.Lock()
	r.users[handle] = user
	if r.reserved == handle {
		r.reserved = ""
	}
	r.mu.Unlock()

	log.Info().Str("handle", handle).Msg("user registered")
	r.events.emit(RegistryEvent{Handle: handle, User: &user})
	return user, nil
}

// checkMapping rejects a handle that the identity map ties to someone else.
func (r *Registry) checkMapping(handle string) error {
	if r.identities == nil {
		return nil
	}
	mapping, ok := r.identities.Lookup(handle)
	if !ok {
		return nil
	}
	if self, known := r.identity(); known && mapping.Identity == self {
		return nil
	}
	return domain.ConflictError{Resource: "handle", Key: handle}
}

func (r *Registry) labelTakenLocked(label string) bool {
	for _, u := range r.users {
		if strings.EqualFold(u.Label, label) {
			return true
		}
	}
	return false
}

// User returns a copy of the registration of handle.
func (r *Registry) User(handle string) (domain.RegisteredUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[handle]
	if !ok {
		return domain.RegisteredUser{}, domain.NotFoundError{Resource: "user " + handle}
	}
	return u, nil
}

func (r *Registry) Users() []domain.RegisteredUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]domain.RegisteredUser, 0, len(r.users))
	for _, u := range r.users {
		list = append(list, u)
	}
	sortUsers(list)
	return list
}

// SetOnline flips the online flag of a registered user.
func (r *Registry) SetOnline(ctx context.Context, handle string, online bool) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	u, ok := r.users[handle]
	if !ok {
		r.mu.Unlock()
		return domain.NotFoundError{Resource: "user " + handle}
	}
	if u.IsOnline == online {
		r.mu.Unlock()
		return nil
	}
	u.IsOnline = online
	r.users[handle] = u
	list := make([]domain.RegisteredUser, 0, len(r.users))
	for _, v := range r.users {
		list = append(list, v)
	}
	r.mu.Unlock()

	sortUsers(list)
	r.write(ctx, domain.KeyRegistry, list)
	r.events.emit(RegistryEvent{Handle: handle, User: &u})
	return nil
}

// SetNickname stores a private nickname for handle. An empty nickname
// removes it.
func (r *Registry) SetNickname(ctx context.Context, handle, nickname string) error {
	if !blurchat.IsHandle(handle) {
		return domain.ValidationError{Field: "handle", Reason: handle}
	}
	if nickname != "" {
		if err := ValidateLabel(nickname); err != nil {
			var verr domain.ValidationError
			if errors.As(err, &verr) {
				verr.Field = "nickname"
				return verr
			}
			return err
		}
	}

	r.mu.Lock()
	if nickname == "" {
		delete(r.nicknames, handle)
	} else {
		r.nicknames[handle] = nickname
	}
	snapshot := make(map[string]string, len(r.nicknames))
	for k, v := range r.nicknames {
		snapshot[k] = v
	}
	r.mu.Unlock()

	r.write(ctx, domain.KeyNicknames, snapshot)
	r.events.emit(RegistryEvent{Handle: handle})
	return nil
}

func (r *Registry) Nickname(handle string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nick, ok := r.nicknames[handle]
	return nick, ok
}

// DisplayNameFor prefers the registered label, then a nickname, then the
// bare handle.
func (r *Registry) DisplayNameFor(handle string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.users[handle]; ok && u.Label != "" {
		return blurchat.ComposeDisplayName(handle, u.Label)
	}
	if nick, ok := r.nicknames[handle]; ok {
		return blurchat.ComposeDisplayName(handle, nick)
	}
	return handle
}

func (r *Registry) Subscribe(fn func(RegistryEvent)) func() {
	return r.events.add(fn)
}

// Reset drops in-memory state and outstanding reservations.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]domain.RegisteredUser)
	r.reserved = ""
	r.nicknames = make(map[string]string)
}

func (r *Registry) write(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to encode registry data")
		return
	}
	if err := r.store.Set(ctx, key, raw); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to persist registry data")
	}
}

func sortUsers(list []domain.RegisteredUser) {
	sort.Slice(list, func(i, j int) bool { return list[i].Handle < list[j].Handle })
}
