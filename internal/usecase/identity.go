package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/metrics"
)

// IdentityEvent is emitted whenever a mapping is added, promoted or removed.
type IdentityEvent struct {
	Mapping domain.IdentityMapping
	Removed bool
}

// IdentityMap resolves handles to identities from a local cache merged
// with the remote directory. Local mappings always win over remote ones.
type IdentityMap struct {
	store     KeyValueStore
	directory Directory
	timing    domain.Timing
	now       func() time.Time

	persistMu sync.Mutex

	mu           sync.RWMutex
	byHandle     map[string]domain.IdentityMapping
	lastRefresh  time.Time
	refreshing   bool
	refreshTimer *time.Timer
	timerGen     uint64
	closed       bool

	events subscribers[IdentityEvent]
}

func NewIdentityMap(store KeyValueStore, directory Directory, timing domain.Timing) *IdentityMap {
	return &IdentityMap{
		store:     store,
		directory: directory,
		timing:    timing,
		now:       time.Now,
		byHandle:  make(map[string]domain.IdentityMapping),
	}
}

// Load reads the cached map from the store. Unreadable data leaves the
// map empty.
func (m *IdentityMap) Load(ctx context.Context) {
	mappings := make(map[string]domain.IdentityMapping)

	raw, err := m.store.Get(ctx, domain.KeyIdentityMap)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Msg("failed to read identity map, starting empty")
	default:
		var list []domain.IdentityMapping
		if err := json.Unmarshal(raw, &list); err != nil {
			log.Warn().Err(err).Msg("identity map cache is corrupt, starting empty")
		} else {
			for _, mapping := range list {
				if !blurchat.IsHandle(mapping.Handle) || !blurchat.IsIdentity(mapping.Identity) {
					continue
				}
				mappings[mapping.Handle] = mapping
			}
		}
	}

	var refreshed time.Time
	if raw, err := m.store.Get(ctx, domain.KeyIdentityMapFresh); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			refreshed = t
		}
	}

	m.mu.Lock()
	m.byHandle = mappings
	m.lastRefresh = refreshed
	m.mu.Unlock()
}

// Resolve returns the identity mapped to handle. It never waits on a refresh.
func (m *IdentityMap) Resolve(handle string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mapping, ok := m.byHandle[handle]
	if !ok {
		return "", domain.NotFoundError{Resource: "handle " + handle}
	}
	return mapping.Identity, nil
}

// Lookup returns a copy of the full mapping for handle.
func (m *IdentityMap) Lookup(handle string) (domain.IdentityMapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.byHandle[handle]
	return mapping, ok
}

// IsConnected reports whether handle has a local mapping.
func (m *IdentityMap) IsConnected(handle string) bool {
	mapping, ok := m.Lookup(handle)
	return ok && mapping.Origin == domain.OriginLocal
}

// AddMapping records handle→identity with local origin. Re-adding the same
// pair is a no-op; an existing remote entry with the same identity is
// promoted to local.
func (m *IdentityMap) AddMapping(ctx context.Context, handle, identity string) error {
	if !blurchat.IsHandle(handle) {
		return domain.ValidationError{Field: "handle", Reason: handle}
	}
	if !blurchat.IsIdentity(identity) {
		return domain.ValidationError{Field: "identity", Reason: identity}
	}

	m.mu.Lock()
	existing, ok := m.byHandle[handle]
	if ok && existing.Identity != identity {
		m.mu.Unlock()
		return domain.ConflictError{Resource: "handle", Key: handle}
	}
	if ok && existing.Origin == domain.OriginLocal {
		m.mu.Unlock()
		return nil
	}

	for h, other := range m.byHandle {
		if h == handle || other.Identity != identity {
			continue
		}
		if other.Origin == domain.OriginLocal {
			m.mu.Unlock()
			return domain.ConflictError{Resource: "identity", Key: identity}
		}
		// the directory entry is stale; the handle was remapped
		delete(m.byHandle, h)
	}

	mapping := domain.IdentityMapping{
		Handle:     handle,
		Identity:   identity,
		Origin:     domain.OriginLocal,
		ObservedAt: m.now(),
	}
	m.byHandle[handle] = mapping
	m.mu.Unlock()

	m.save(ctx)
	m.events.emit(IdentityEvent{Mapping: mapping})
	return nil
}

// RemoveMapping drops the mapping for handle, whatever its origin.
func (m *IdentityMap) RemoveMapping(ctx context.Context, handle string) error {
	m.mu.Lock()
	mapping, ok := m.byHandle[handle]
	if !ok {
		m.mu.Unlock()
		return domain.NotFoundError{Resource: "handle " + handle}
	}
	delete(m.byHandle, handle)
	m.mu.Unlock()

	m.save(ctx)
	m.events.emit(IdentityEvent{Mapping: mapping, Removed: true})
	return nil
}

// AdoptRemote stores a single directory entry when the handle has no
// mapping yet. It reports whether the entry was adopted.
func (m *IdentityMap) AdoptRemote(ctx context.Context, entry blurchat.DirectoryEntry) bool {
	if !blurchat.IsHandle(entry.Handle) || !blurchat.IsIdentity(entry.Identity) {
		return false
	}

	m.mu.Lock()
	if _, ok := m.byHandle[entry.Handle]; ok || m.identityTakenLocked(entry.Identity) {
		m.mu.Unlock()
		return false
	}
	mapping := domain.IdentityMapping{
		Handle:     entry.Handle,
		Identity:   entry.Identity,
		Origin:     domain.OriginRemote,
		ObservedAt: m.now(),
	}
	m.byHandle[entry.Handle] = mapping
	m.mu.Unlock()

	m.save(ctx)
	m.events.emit(IdentityEvent{Mapping: mapping})
	return true
}

// RefreshFromRemote merges a directory snapshot into the map and returns
// the number of adopted entries. Failures are logged, never returned; the
// cache stays as it was.
func (m *IdentityMap) RefreshFromRemote(ctx context.Context, force bool) int {
	adopted, err := m.refresh(ctx, force)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			metrics.RefreshTotal.WithLabelValues("timeout").Inc()
		} else {
			metrics.RefreshTotal.WithLabelValues("failed").Inc()
		}
		log.Warn().Err(err).Msg("directory refresh failed, using cached identities")
		return 0
	}
	return adopted
}

// RefreshAsync runs RefreshFromRemote in the background.
func (m *IdentityMap) RefreshAsync(force bool) {
	go m.RefreshFromRemote(context.Background(), force)
}

func (m *IdentityMap) refresh(ctx context.Context, force bool) (int, error) {
	if m.directory == nil {
		return 0, nil
	}

	m.mu.Lock()
	if m.closed || m.refreshing {
		m.mu.Unlock()
		return 0, nil
	}
	if !force && !m.lastRefresh.IsZero() && m.now().Sub(m.lastRefresh) < m.timing.RefreshInterval {
		m.mu.Unlock()
		metrics.RefreshTotal.WithLabelValues("throttled").Inc()
		return 0, nil
	}
	m.refreshing = true
	m.lastRefresh = m.now()
	attemptedAt := m.lastRefresh
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "IdentityMap.RefreshFromRemote", trace.WithAttributes(attribute.Bool("force", force)))
	defer span.End()

	m.persistRefreshTime(ctx, attemptedAt)

	fetchCtx, cancel := context.WithTimeout(ctx, m.timing.RefreshTimeout)
	defer cancel()

	snapshot, err := m.directory.Snapshot(fetchCtx)
	if err != nil {
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = domain.TimeoutError{Op: "directory refresh"}
		}
		span.RecordError(err)
		return 0, err
	}

	if err := validateSnapshot(snapshot); err != nil {
		span.RecordError(err)
		return 0, err
	}

	handles := make([]string, 0, len(snapshot.Entries))
	for handle := range snapshot.Entries {
		handles = append(handles, handle)
	}
	sort.Strings(handles)

	m.mu.Lock()
	observedAt := m.now()
	var changed []domain.IdentityMapping
	for _, handle := range handles {
		identity := snapshot.Entries[handle]
		current, ok := m.byHandle[handle]
		if ok && current.Origin == domain.OriginLocal {
			continue
		}
		if ok && current.Identity == identity {
			continue
		}
		if m.localIdentityLocked(identity) {
			continue
		}
		for h, other := range m.byHandle {
			if h != handle && other.Identity == identity {
				delete(m.byHandle, h)
			}
		}
		mapping := domain.IdentityMapping{
			Handle:     handle,
			Identity:   identity,
			Origin:     domain.OriginRemote,
			ObservedAt: observedAt,
		}
		m.byHandle[handle] = mapping
		changed = append(changed, mapping)
	}
	m.mu.Unlock()

	if len(changed) > 0 {
		m.save(ctx)
	}
	for _, mapping := range changed {
		m.events.emit(IdentityEvent{Mapping: mapping})
	}

	metrics.RefreshTotal.WithLabelValues("applied").Inc()
	log.Debug().Int("adopted", len(changed)).Int("entries", len(snapshot.Entries)).Msg("directory refresh applied")
	return len(changed), nil
}

// validateSnapshot rejects the snapshot as a whole: a single malformed
// pair or an identity listed twice discards everything.
func validateSnapshot(snapshot blurchat.DirectorySnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return domain.ValidationError{Field: "directory snapshot", Reason: err.Error()}
	}
	seen := make(map[string]string, len(snapshot.Entries))
	for handle, identity := range snapshot.Entries {
		if other, dup := seen[identity]; dup {
			return domain.ValidationError{
				Field:  "directory snapshot",
				Reason: "identity " + identity + " listed for " + other + " and " + handle,
			}
		}
		seen[identity] = handle
	}
	return nil
}

// StartAutoRefresh arms the refresh timer for the next due refresh.
func (m *IdentityMap) StartAutoRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armRefreshLocked()
}

func (m *IdentityMap) armRefreshLocked() {
	if m.closed || m.directory == nil || m.timing.RefreshInterval <= 0 {
		return
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
	}

	delay := time.Duration(0)
	if !m.lastRefresh.IsZero() {
		delay = m.timing.RefreshInterval - m.now().Sub(m.lastRefresh)
		if delay < 0 {
			delay = 0
		}
	}

	m.timerGen++
	gen := m.timerGen
	m.refreshTimer = time.AfterFunc(delay, func() {
		m.RefreshFromRemote(context.Background(), false)

		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.timerGen {
			return
		}
		m.armRefreshLocked()
	})
}

// Close stops the refresh timer. The map stays readable.
func (m *IdentityMap) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.timerGen++
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.events.clear()
}

// GenerateAvailableHandle returns the lowest handle with no mapping.
func (m *IdentityMap) GenerateAvailableHandle() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for n := blurchat.MinHandle; n <= blurchat.MaxHandle; n++ {
		handle := blurchat.FormatHandle(n)
		if _, ok := m.byHandle[handle]; !ok {
			return handle, nil
		}
	}
	return "", domain.ErrHandlesExhausted
}

// GetHandleFor is the reverse lookup.
func (m *IdentityMap) GetHandleFor(identity string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := ""
	for handle, mapping := range m.byHandle {
		if mapping.Identity != identity {
			continue
		}
		if found == "" || mapping.Origin == domain.OriginLocal {
			found = handle
		}
	}
	if found == "" {
		return "", domain.NotFoundError{Resource: "identity " + identity}
	}
	return found, nil
}

// Mappings returns a sorted copy of every mapping.
func (m *IdentityMap) Mappings() []domain.IdentityMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

func (m *IdentityMap) Subscribe(fn func(IdentityEvent)) func() {
	return m.events.add(fn)
}

func (m *IdentityMap) listLocked() []domain.IdentityMapping {
	list := make([]domain.IdentityMapping, 0, len(m.byHandle))
	for _, mapping := range m.byHandle {
		list = append(list, mapping)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Handle < list[j].Handle
	})
	return list
}

func (m *IdentityMap) identityTakenLocked(identity string) bool {
	for _, mapping := range m.byHandle {
		if mapping.Identity == identity {
			return true
		}
	}
	return false
}

func (m *IdentityMap) localIdentityLocked(identity string) bool {
	for _, mapping := range m.byHandle {
		if mapping.Identity == identity && mapping.Origin == domain.OriginLocal {
			return true
		}
	}
	return false
}

// save writes the current map. persistMu keeps concurrent writers from
// storing an older list after a newer one.
func (m *IdentityMap) save(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	raw, err := json.Marshal(m.Mappings())
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode identity map")
		return
	}
	if err := m.store.Set(ctx, domain.KeyIdentityMap, raw); err != nil {
		log.Warn().Err(err).Msg("failed to persist identity map")
	}
}

func (m *IdentityMap) persistRefreshTime(ctx context.Context, t time.Time) {
	if err := m.store.Set(ctx, domain.KeyIdentityMapFresh, []byte(t.Format(time.RFC3339Nano))); err != nil {
		log.Warn().Err(err).Msg("failed to persist refresh time")
	}
}

// Reset drops the in-memory map. The durable cache is left alone.
func (m *IdentityMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHandle = make(map[string]domain.IdentityMapping)
	m.lastRefresh = time.Time{}
}
