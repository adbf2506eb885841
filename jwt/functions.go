package jwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/totegamma/blurchat"
)

const Algorithm = "BLURCHAT"

// tokens issued further ahead than this are refused
const maxIssuedAtSkew = time.Minute

var (
	ErrMalformed    = errors.New("malformed jwt")
	ErrUnsupported  = errors.New("unsupported jwt type")
	ErrExpired      = errors.New("jwt is already expired")
	ErrNotYetValid  = errors.New("jwt is issued in the future")
	ErrBadSignature = errors.New("jwt signature mismatch")
)

// Create signs claims with the identity key.
func Create(claims Claims, privatekey string) (string, error) {
	header := Header{
		Type:      "JWT",
		Algorithm: Algorithm,
	}
	headerB64, err := encodeSegment(header)
	if err != nil {
		return "", err
	}
	payloadB64, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	target := headerB64 + "." + payloadB64

	signature, err := blurchat.SignBytes([]byte(target), privatekey)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to sign jwt")
	}
	return target + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// Validate checks the signature and the time window against the wall clock.
func Validate(token string) (*Header, *Claims, error) {
	return ValidateAt(token, time.Now())
}

// ValidateAt is Validate with an explicit clock.
func ValidateAt(token string, now time.Time) (*Header, *Claims, error) {
	split := strings.Split(token, ".")
	if len(split) != 3 {
		return nil, nil, ErrMalformed
	}

	var header Header
	if err := decodeSegment(split[0], &header); err != nil {
		return nil, nil, err
	}
	if header.Type != "JWT" || header.Algorithm != Algorithm {
		return nil, nil, ErrUnsupported
	}

	var claims Claims
	if err := decodeSegment(split[1], &claims); err != nil {
		return nil, nil, err
	}

	if claims.ExpirationTime != "" {
		exp, err := strconv.ParseInt(claims.ExpirationTime, 10, 64)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(ErrMalformed, "exp")
		}
		if exp < now.Unix() {
			return nil, nil, ErrExpired
		}
	}
	if claims.IssuedAt != "" {
		iat, err := strconv.ParseInt(claims.IssuedAt, 10, 64)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(ErrMalformed, "iat")
		}
		if time.Unix(iat, 0).After(now.Add(maxIssuedAtSkew)) {
			return nil, nil, ErrNotYetValid
		}
	}

	signature, err := base64.RawURLEncoding.DecodeString(split[2])
	if err != nil {
		return nil, nil, pkgerrors.Wrap(ErrMalformed, "signature")
	}

	keyID := header.KeyID
	if keyID == "" {
		keyID = claims.Issuer
	}
	if err := blurchat.VerifySignature([]byte(split[0]+"."+split[1]), signature, keyID); err != nil {
		return nil, nil, pkgerrors.Wrap(ErrBadSignature, err.Error())
	}

	return &header, &claims, nil
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to encode jwt segment")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeSegment(segment string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return pkgerrors.Wrap(ErrMalformed, err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return pkgerrors.Wrap(ErrMalformed, err.Error())
	}
	return nil
}
