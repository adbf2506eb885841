package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/metrics"
)

type disclosureSession struct {
	state      domain.DisclosureState
	revealedAt time.Time
	deadline   time.Time
	content    string
	timer      *time.Timer
	gen        uint64
}

// Disclosure runs the hold-to-reveal machine for every message:
//
//	Hidden → Holding → Revealed → AutoBlurring → Hidden
//
// A session owns at most one timer. Every transition stops it and bumps
// the session generation before arming the next one, so a timer that
// already fired for an older state finds a mismatched generation and does
// nothing.
type Disclosure struct {
	timing domain.Timing
	source ContentSource
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*disclosureSession
	closed   bool

	events subscribers[domain.DisclosureEvent]
}

func NewDisclosure(timing domain.Timing, source ContentSource) *Disclosure {
	return &Disclosure{
		timing:   timing,
		source:   source,
		now:      time.Now,
		sessions: make(map[string]*disclosureSession),
	}
}

// PressStart begins a hold. Only a hidden message reacts.
func (d *Disclosure) PressStart(messageID string) domain.DisclosureState {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.Hidden
	}
	sess := d.sessionLocked(messageID)
	if sess.state != domain.Hidden {
		state := sess.state
		d.mu.Unlock()
		return state
	}
	ev := d.transitionLocked(messageID, sess, domain.Holding)
	d.armLocked(sess, d.timing.RampDuration, func(gen uint64) { d.rampDone(messageID, gen) })
	d.mu.Unlock()

	d.emit(ev)
	return domain.Holding
}

// PressEnd releases the press. Before the ramp completes this aborts the
// reveal; after it, it re-hides the content at once.
func (d *Disclosure) PressEnd(messageID string) domain.DisclosureState {
	return d.release(messageID)
}

// PressCancel is a cancelled gesture and behaves like a release.
func (d *Disclosure) PressCancel(messageID string) domain.DisclosureState {
	return d.release(messageID)
}

func (d *Disclosure) release(messageID string) domain.DisclosureState {
	d.mu.Lock()
	sess, ok := d.sessions[messageID]
	if !ok {
		d.mu.Unlock()
		return domain.Hidden
	}
	if sess.state != domain.Holding && sess.state != domain.Revealed {
		state := sess.state
		d.mu.Unlock()
		return state
	}
	ev := d.transitionLocked(messageID, sess, domain.Hidden)
	d.mu.Unlock()

	d.emit(ev)
	return domain.Hidden
}

func (d *Disclosure) rampDone(messageID string, gen uint64) {
	d.mu.Lock()
	sess, ok := d.sessions[messageID]
	if !ok || sess.gen != gen || sess.state != domain.Holding {
		d.mu.Unlock()
		return
	}

	content, err := d.source.Open(messageID)
	if err != nil {
		log.Warn().Err(err).Str("message", messageID).Msg("failed to open message content")
		ev := d.transitionLocked(messageID, sess, domain.Hidden)
		d.mu.Unlock()
		d.emit(ev)
		return
	}

	ev := d.transitionLocked(messageID, sess, domain.Revealed)
	sess.content = content
	sess.revealedAt = d.now()
	sess.deadline = sess.revealedAt.Add(d.timing.RevealDuration)
	d.armLocked(sess, d.timing.RevealDuration, func(gen uint64) { d.countdownDone(messageID, gen) })
	d.mu.Unlock()

	d.emit(ev)
}

func (d *Disclosure) countdownDone(messageID string, gen uint64) {
	d.mu.Lock()
	sess, ok := d.sessions[messageID]
	if !ok || sess.gen != gen || sess.state != domain.Revealed {
		d.mu.Unlock()
		return
	}

	events := []domain.DisclosureEvent{d.transitionLocked(messageID, sess, domain.AutoBlurring)}
	if d.timing.BlurDuration <= 0 {
		events = append(events, d.transitionLocked(messageID, sess, domain.Hidden))
	} else {
		d.armLocked(sess, d.timing.BlurDuration, func(gen uint64) { d.blurDone(messageID, gen) })
	}
	d.mu.Unlock()

	for _, ev := range events {
		d.emit(ev)
	}
}

func (d *Disclosure) blurDone(messageID string, gen uint64) {
	d.mu.Lock()
	sess, ok := d.sessions[messageID]
	if !ok || sess.gen != gen || sess.state != domain.AutoBlurring {
		d.mu.Unlock()
		return
	}
	ev := d.transitionLocked(messageID, sess, domain.Hidden)
	d.mu.Unlock()

	d.emit(ev)
}

// transitionLocked cancels the current timer and moves to the new state.
// Plaintext never survives leaving Revealed.
func (d *Disclosure) transitionLocked(messageID string, sess *disclosureSession, to domain.DisclosureState) domain.DisclosureEvent {
	d.disarmLocked(sess)
	from := sess.state
	sess.state = to
	if to != domain.Revealed {
		sess.content = ""
		sess.deadline = time.Time{}
	}
	if to == domain.Hidden {
		sess.revealedAt = time.Time{}
	}
	metrics.DisclosureTransitions.WithLabelValues(to.String()).Inc()
	return domain.DisclosureEvent{MessageID: messageID, From: from, To: to, At: d.now()}
}

// armLocked binds the timer to the session's current generation.
func (d *Disclosure) armLocked(sess *disclosureSession, after time.Duration, fn func(gen uint64)) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if d.closed {
		return
	}
	gen := sess.gen
	sess.timer = time.AfterFunc(after, func() { fn(gen) })
}

func (d *Disclosure) disarmLocked(sess *disclosureSession) {
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	sess.gen++
}

func (d *Disclosure) sessionLocked(messageID string) *disclosureSession {
	sess, ok := d.sessions[messageID]
	if !ok {
		sess = &disclosureSession{state: domain.Hidden}
		d.sessions[messageID] = sess
	}
	return sess
}

// Snapshot returns a copy of the message's session. Unknown messages are hidden.
func (d *Disclosure) Snapshot(messageID string) domain.DisclosureSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[messageID]
	if !ok {
		return domain.DisclosureSnapshot{MessageID: messageID, State: domain.Hidden}
	}
	return d.snapshotLocked(messageID, sess)
}

func (d *Disclosure) Snapshots() []domain.DisclosureSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]domain.DisclosureSnapshot, 0, len(d.sessions))
	for id, sess := range d.sessions {
		out = append(out, d.snapshotLocked(id, sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

func (d *Disclosure) snapshotLocked(messageID string, sess *disclosureSession) domain.DisclosureSnapshot {
	snap := domain.DisclosureSnapshot{MessageID: messageID, State: sess.state}
	if !sess.revealedAt.IsZero() {
		at := sess.revealedAt
		snap.RevealedAt = &at
	}
	if sess.state == domain.Revealed {
		snap.Content = sess.content
		if remaining := sess.deadline.Sub(d.now()); remaining > 0 {
			snap.Remaining = remaining
		}
	}
	return snap
}

// Forget drops the session of one message.
func (d *Disclosure) Forget(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sess, ok := d.sessions[messageID]; ok {
		d.disarmLocked(sess)
		sess.content = ""
		delete(d.sessions, messageID)
	}
}

// Reset stops every timer and drops every session.
func (d *Disclosure) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

// Close resets and refuses later presses, so no timer outlives the owner.
func (d *Disclosure) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.resetLocked()
}

func (d *Disclosure) resetLocked() {
	for id, sess := range d.sessions {
		d.disarmLocked(sess)
		sess.content = ""
		delete(d.sessions, id)
	}
}

// PendingTimers counts sessions that currently own a timer.
func (d *Disclosure) PendingTimers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, sess := range d.sessions {
		if sess.timer != nil {
			n++
		}
	}
	return n
}

func (d *Disclosure) Subscribe(fn func(domain.DisclosureEvent)) func() {
	return d.events.add(fn)
}

func (d *Disclosure) emit(ev domain.DisclosureEvent) {
	d.events.emit(ev)
}
