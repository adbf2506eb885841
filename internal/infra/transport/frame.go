// Package transport carries signed frames between identities over a
// pub/sub broker. Every identity listens on its own subjects; a room is
// the set of members a frame is fanned out to.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/totegamma/blurchat"
)

type Kind string

const (
	KindPayload Kind = "payload"
	KindInvite  Kind = "invite"
	KindJoin    Kind = "join"
)

// maxClockSkew bounds how old or how far ahead a frame may be signed.
const maxClockSkew = 5 * time.Minute

// Frame is what travels on the wire. Sender is proven by Signature, which
// covers every other field.
type Frame struct {
	Kind      Kind     `json:"kind"`
	Room      string   `json:"room"`
	Sender    string   `json:"sender"`
	Members   []string `json:"members,omitempty"`
	Payload   []byte   `json:"payload,omitempty"`
	SignedAt  int64    `json:"signedAt"`
	Signature []byte   `json:"signature,omitempty"`
}

func (f Frame) signingBytes() ([]byte, error) {
	f.Signature = nil
	return json.Marshal(f)
}

func sealFrame(f Frame, privateKey string) ([]byte, error) {
	f.SignedAt = time.Now().Unix()
	target, err := f.signingBytes()
	if err != nil {
		return nil, err
	}
	sig, err := blurchat.SignBytes(target, privateKey)
	if err != nil {
		return nil, err
	}
	f.Signature = sig
	return json.Marshal(f)
}

// openFrame decodes data and verifies the sender's signature.
func openFrame(data []byte, now time.Time) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid frame: %w", err)
	}
	if !blurchat.IsIdentity(f.Sender) {
		return Frame{}, fmt.Errorf("invalid frame sender %q", f.Sender)
	}
	if f.Room == "" || strings.ContainsAny(f.Room, ".:*> ") {
		return Frame{}, fmt.Errorf("invalid frame room %q", f.Room)
	}
	signedAt := time.Unix(f.SignedAt, 0)
	if now.Sub(signedAt) > maxClockSkew || signedAt.Sub(now) > maxClockSkew {
		return Frame{}, fmt.Errorf("frame signed at %s is outside the accepted window", signedAt)
	}

	target, err := f.signingBytes()
	if err != nil {
		return Frame{}, err
	}
	if err := blurchat.VerifySignature(target, f.Signature, f.Sender); err != nil {
		return Frame{}, fmt.Errorf("invalid frame signature: %w", err)
	}
	return f, nil
}
