package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/totegamma/blurchat/internal/domain"
)

type PresenceKind string

const (
	PresenceTyping PresenceKind = "typing"
	PresenceRead   PresenceKind = "read"
	PresenceClear  PresenceKind = "clear"
)

type PresenceEvent struct {
	RoomID string
	Kind   PresenceKind
	Handle string
}

type typingKey struct {
	room   string
	handle string
}

type typingEntry struct {
	indicator domain.TypingIndicator
	timer     *time.Timer
	gen       uint64
}

// PresenceStore keeps read receipts and typing indicators in memory only.
// Each typing entry owns at most one inactivity timer.
type PresenceStore struct {
	timing domain.Timing
	now    func() time.Time

	mu       sync.Mutex
	receipts map[string][]domain.ReadReceipt // per room, oldest first
	typing   map[typingKey]*typingEntry
	gen      uint64
	closed   bool

	events subscribers[PresenceEvent]
}

func NewPresenceStore(timing domain.Timing) *PresenceStore {
	return &PresenceStore{
		timing:   timing,
		now:      time.Now,
		receipts: make(map[string][]domain.ReadReceipt),
		typing:   make(map[typingKey]*typingEntry),
	}
}

// MarkRead upserts the receipt of (messageID, reader) and evicts the
// oldest receipts of the room beyond the cap.
func (s *PresenceStore) MarkRead(messageID, roomID, readerHandle string) error {
	if messageID == "" || roomID == "" || readerHandle == "" {
		return domain.ValidationError{Field: "read receipt", Reason: "messageId, roomId and reader are required"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	list := s.receipts[roomID]
	kept := list[:0]
	for _, r := range list {
		if r.MessageID == messageID && r.ReaderHandle == readerHandle {
			continue
		}
		kept = append(kept, r)
	}
	kept = append(kept, domain.ReadReceipt{
		MessageID:    messageID,
		RoomID:       roomID,
		ReaderHandle: readerHandle,
		ReadAt:       s.now(),
	})
	if limit := s.timing.ReadReceiptCap; limit > 0 && len(kept) > limit {
		kept = append([]domain.ReadReceipt(nil), kept[len(kept)-limit:]...)
	}
	s.receipts[roomID] = kept
	s.mu.Unlock()

	s.events.emit(PresenceEvent{RoomID: roomID, Kind: PresenceRead, Handle: readerHandle})
	return nil
}

func (s *PresenceStore) GetReadCount(messageID, roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.receipts[roomID] {
		if r.MessageID == messageID {
			count++
		}
	}
	return count
}

func (s *PresenceStore) IsReadBy(messageID, roomID, readerHandle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.receipts[roomID] {
		if r.MessageID == messageID && r.ReaderHandle == readerHandle {
			return true
		}
	}
	return false
}

// Receipts returns a copy of the room's live receipts, oldest first.
func (s *PresenceStore) Receipts(roomID string) []domain.ReadReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ReadReceipt(nil), s.receipts[roomID]...)
}

// SetTyping records or refreshes the entry and re-arms its inactivity
// timer. The previous timer is cancelled first. A closed store arms nothing.
func (s *PresenceStore) SetTyping(roomID, handle string, isGroupContext bool) {
	key := typingKey{room: roomID, handle: handle}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if prev, ok := s.typing[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	entry := &typingEntry{
		indicator: domain.TypingIndicator{
			RoomID:    roomID,
			Handle:    handle,
			StartedAt: s.now(),
			Group:     isGroupContext,
		},
		gen: gen,
	}
	entry.timer = time.AfterFunc(s.timing.TypingInactivity, func() {
		s.expireTyping(key, gen)
	})
	s.typing[key] = entry
	s.mu.Unlock()

	s.events.emit(PresenceEvent{RoomID: roomID, Kind: PresenceTyping, Handle: handle})
}

// StopTyping removes the entry at once and cancels its timer.
func (s *PresenceStore) StopTyping(roomID, handle string, isGroupContext bool) {
	key := typingKey{room: roomID, handle: handle}

	s.mu.Lock()
	entry, ok := s.typing[key]
	if ok {
		entry.timer.Stop()
		delete(s.typing, key)
	}
	s.mu.Unlock()

	if ok {
		s.events.emit(PresenceEvent{RoomID: roomID, Kind: PresenceTyping, Handle: handle})
	}
}

// expireTyping runs on the timer goroutine. A newer SetTyping bumps the
// generation, so a stale fire is ignored.
func (s *PresenceStore) expireTyping(key typingKey, gen uint64) {
	s.mu.Lock()
	entry, ok := s.typing[key]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.typing, key)
	s.mu.Unlock()

	s.events.emit(PresenceEvent{RoomID: key.room, Kind: PresenceTyping, Handle: key.handle})
}

// GetTypingUsers returns the room's typers, excluding entries older than
// the staleness window even if their timer has not fired yet.
func (s *PresenceStore) GetTypingUsers(roomID string) []domain.TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var users []domain.TypingIndicator
	for key, entry := range s.typing {
		if key.room != roomID {
			continue
		}
		if now.Sub(entry.indicator.StartedAt) > s.timing.TypingStaleness {
			continue
		}
		users = append(users, entry.indicator)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].StartedAt.Equal(users[j].StartedAt) {
			return users[i].Handle < users[j].Handle
		}
		return users[i].StartedAt.Before(users[j].StartedAt)
	})
	return users
}

// GetTypingText formats the typing line shown under a conversation.
func (s *PresenceStore) GetTypingText(roomID string, isGroupContext bool, excludeHandle string) string {
	var handles []string
	for _, u := range s.GetTypingUsers(roomID) {
		if u.Handle == excludeHandle {
			continue
		}
		handles = append(handles, u.Handle)
	}
	return FormatTypingText(handles, isGroupContext)
}

func FormatTypingText(handles []string, isGroupContext bool) string {
	switch {
	case len(handles) == 0:
		return ""
	case !isGroupContext:
		return "typing…"
	case len(handles) == 1:
		return fmt.Sprintf("%s is typing…", handles[0])
	case len(handles) == 2:
		return fmt.Sprintf("%s and %s are typing…", handles[0], handles[1])
	default:
		return fmt.Sprintf("%s and %d others are typing…", handles[0], len(handles)-1)
	}
}

// ClearRoom drops every receipt and typing entry of the room and cancels
// their timers.
func (s *PresenceStore) ClearRoom(roomID string) {
	s.mu.Lock()
	for key, entry := range s.typing {
		if key.room != roomID {
			continue
		}
		entry.timer.Stop()
		delete(s.typing, key)
	}
	delete(s.receipts, roomID)
	s.mu.Unlock()

	s.events.emit(PresenceEvent{RoomID: roomID, Kind: PresenceClear})
}

// ClearAll resets the store and cancels every outstanding timer.
func (s *PresenceStore) ClearAll() {
	s.clear(false)
}

// Close clears the store and refuses every later receipt or typing entry.
func (s *PresenceStore) Close() {
	s.clear(true)
}

func (s *PresenceStore) clear(closing bool) {
	s.mu.Lock()
	if closing {
		s.closed = true
	}
	for key, entry := range s.typing {
		entry.timer.Stop()
		delete(s.typing, key)
	}
	s.receipts = make(map[string][]domain.ReadReceipt)
	s.mu.Unlock()

	s.events.emit(PresenceEvent{Kind: PresenceClear})
}

// PendingTimers counts the typing entries that still own a timer.
func (s *PresenceStore) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.typing)
}

func (s *PresenceStore) Subscribe(fn func(PresenceEvent)) func() {
	return s.events.add(fn)
}
