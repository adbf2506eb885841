package jwt

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/totegamma/blurchat"
)

// Header is the jwt header
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
}

// Claims is the jwt claims
type Claims struct {
	Issuer         string `json:"iss,omitempty"` // identity of the signer
	Subject        string `json:"sub,omitempty"`
	Audience       string `json:"aud,omitempty"` // directory host
	ExpirationTime string `json:"exp,omitempty"` // unix seconds
	IssuedAt       string `json:"iat,omitempty"` // unix seconds
	JWTID          string `json:"jti,omitempty"`
	Handle         string `json:"handle,omitempty"` // handle a publish token may claim
}

// NewPublishClaims scopes a directory publish token to one handle.
func NewPublishClaims(identity, audience, handle string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Issuer:         identity,
		Subject:        blurchat.DirectoryJWTSubject,
		Audience:       audience,
		IssuedAt:       strconv.FormatInt(now.Unix(), 10),
		ExpirationTime: strconv.FormatInt(now.Add(ttl).Unix(), 10),
		JWTID:          uuid.NewString(),
		Handle:         handle,
	}
}
