package domain

import "time"

// ChatMessage is the in-memory record of a message. The body is never
// kept here; it lives sealed in the content vault.
type ChatMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"roomId"`
	FromHandle string    `json:"fromHandle"`
	Outgoing   bool      `json:"outgoing"`
	At         time.Time `json:"at"`
}
