package domain

import "time"

// DisclosureSnapshot is an immutable view of one message's session.
// Content is only set while the state is Revealed.
type DisclosureSnapshot struct {
	MessageID  string          `json:"messageId"`
	State      DisclosureState `json:"state"`
	RevealedAt *time.Time      `json:"revealedAt,omitempty"`
	Remaining  time.Duration   `json:"remaining"`
	Content    string          `json:"content,omitempty"`
}

// DisclosureEvent is emitted on every state transition.
type DisclosureEvent struct {
	MessageID string          `json:"messageId"`
	From      DisclosureState `json:"from"`
	To        DisclosureState `json:"to"`
	At        time.Time       `json:"at"`
}
