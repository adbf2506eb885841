package domain

import "time"

// ContactRequest is one handshake request, tracked on both ends.
type ContactRequest struct {
	ID           string           `json:"id"`
	FromHandle   string           `json:"fromHandle"`
	FromIdentity string           `json:"fromIdentity"`
	ToHandle     string           `json:"toHandle"`
	ToIdentity   string           `json:"toIdentity"`
	RoomID       string           `json:"roomId"`
	CreatedAt    time.Time        `json:"createdAt"`
	Status       RequestStatus    `json:"status"`
	Direction    RequestDirection `json:"direction"`
	Message      string           `json:"message,omitempty"`
}

// Final reports whether the request can no longer change.
func (r ContactRequest) Final() bool {
	return r.Status == RequestAccepted || r.Status == RequestRejected
}

// SendResult describes the outcome of sending a contact request.
type SendResult struct {
	RequestID        string `json:"requestId,omitempty"`
	AlreadyConnected bool   `json:"alreadyConnected"`
}

// AcceptResult carries the mapping conflict that accept reports
// separately from its own success.
type AcceptResult struct {
	Request         ContactRequest `json:"request"`
	MappingConflict error          `json:"-"`
}
