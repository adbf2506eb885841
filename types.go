package blurchat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Payload type discriminants carried over the transport.
const (
	PayloadContactRequest  = "contact_request"
	PayloadContactAccepted = "contact_accepted"
	PayloadMessage         = "message"
	PayloadTyping          = "typing"
	PayloadReadReceipt     = "read_receipt"
)

// Payload is implemented by every wire payload.
type Payload interface {
	PayloadType() string
}

type ContactRequest struct {
	Type       string `json:"type"`
	FromHandle string `json:"fromHandle"`
	ToHandle   string `json:"toHandle"`
	RequestID  string `json:"requestId"`
	Message    string `json:"message,omitempty"`
}

func (ContactRequest) PayloadType() string { return PayloadContactRequest }

type ContactAccepted struct {
	Type       string `json:"type"`
	FromHandle string `json:"fromHandle"`
	ToHandle   string `json:"toHandle"`
	RequestID  string `json:"requestId"`
}

func (ContactAccepted) PayloadType() string { return PayloadContactAccepted }

type Message struct {
	Type       string `json:"type"`
	MessageID  string `json:"messageId"`
	FromHandle string `json:"fromHandle"`
	Body       string `json:"body"`
}

func (Message) PayloadType() string { return PayloadMessage }

type Typing struct {
	Type       string `json:"type"`
	FromHandle string `json:"fromHandle"`
	Active     bool   `json:"active"`
	Group      bool   `json:"group,omitempty"`
}

func (Typing) PayloadType() string { return PayloadTyping }

type ReadReceipt struct {
	Type       string `json:"type"`
	FromHandle string `json:"fromHandle"`
	MessageID  string `json:"messageId"`
}

func (ReadReceipt) PayloadType() string { return PayloadReadReceipt }

// ErrUnknownPayload is returned by DecodePayload for a type it does not know.
// Receivers are expected to drop such payloads.
var ErrUnknownPayload = errors.New("unknown payload type")

// EncodePayload stamps the type discriminant and marshals the payload.
func EncodePayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case ContactRequest:
		v.Type = PayloadContactRequest
		return json.Marshal(v)
	case ContactAccepted:
		v.Type = PayloadContactAccepted
		return json.Marshal(v)
	case Message:
		v.Type = PayloadMessage
		return json.Marshal(v)
	case Typing:
		v.Type = PayloadTyping
		return json.Marshal(v)
	case ReadReceipt:
		v.Type = PayloadReadReceipt
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported payload %T", p)
	}
}

// DecodePayload reads the type discriminant and decodes into the matching
// payload struct. Required fields are checked; handles are format-checked.
func DecodePayload(data []byte) (Payload, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	switch head.Type {
	case PayloadContactRequest:
		var p ContactRequest
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid contact_request: %w", err)
		}
		if !IsHandle(p.FromHandle) || !IsHandle(p.ToHandle) || p.RequestID == "" {
			return nil, fmt.Errorf("invalid contact_request fields")
		}
		return p, nil
	case PayloadContactAccepted:
		var p ContactAccepted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid contact_accepted: %w", err)
		}
		if !IsHandle(p.FromHandle) || !IsHandle(p.ToHandle) || p.RequestID == "" {
			return nil, fmt.Errorf("invalid contact_accepted fields")
		}
		return p, nil
	case PayloadMessage:
		var p Message
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		if p.MessageID == "" || !IsHandle(p.FromHandle) {
			return nil, fmt.Errorf("invalid message fields")
		}
		return p, nil
	case PayloadTyping:
		var p Typing
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid typing: %w", err)
		}
		if !IsHandle(p.FromHandle) {
			return nil, fmt.Errorf("invalid typing fields")
		}
		return p, nil
	case PayloadReadReceipt:
		var p ReadReceipt
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("invalid read_receipt: %w", err)
		}
		if p.MessageID == "" || !IsHandle(p.FromHandle) {
			return nil, fmt.Errorf("invalid read_receipt fields")
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, head.Type)
	}
}

// DirectoryEntry is one handle↔identity pair published in the remote directory.
type DirectoryEntry struct {
	Handle    string    `json:"handle"`
	Identity  string    `json:"identity"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DirectorySnapshot is the body served at the directory snapshot endpoint.
type DirectorySnapshot struct {
	Version     string            `json:"version"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Entries     map[string]string `json:"entries"`
}

// Validate rejects the whole snapshot if any pair is malformed.
func (s DirectorySnapshot) Validate() error {
	for handle, identity := range s.Entries {
		if !IsHandle(handle) {
			return fmt.Errorf("directory entry has malformed handle %q", handle)
		}
		if !IsIdentity(identity) {
			return fmt.Errorf("directory entry %q has malformed identity %q", handle, identity)
		}
	}
	return nil
}
