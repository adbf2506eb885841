package blurchat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStampsType(t *testing.T) {
	data, err := EncodePayload(Typing{FromHandle: "17", Active: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"typing","fromHandle":"17","active":true}`, string(data))

	p, err := DecodePayload(data)
	require.NoError(t, err)
	typing, ok := p.(Typing)
	require.True(t, ok)
	assert.True(t, typing.Active)
}

func TestDecodeRejects(t *testing.T) {
	_, err := DecodePayload([]byte(`{"type":"sticker"}`))
	assert.ErrorIs(t, err, ErrUnknownPayload)

	_, err = DecodePayload([]byte(`nope`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownPayload)

	// missing request id
	_, err = DecodePayload([]byte(`{"type":"contact_request","fromHandle":"17","toHandle":"32"}`))
	assert.Error(t, err)

	// malformed handle
	_, err = DecodePayload([]byte(`{"type":"message","messageId":"m","fromHandle":"7"}`))
	assert.Error(t, err)
}

func TestSnapshotValidate(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	identity, err := PrivKeyToAddr(key, IdentityPrefix)
	require.NoError(t, err)

	assert.NoError(t, DirectorySnapshot{Entries: map[string]string{"17": identity}}.Validate())
	assert.Error(t, DirectorySnapshot{Entries: map[string]string{"7": identity}}.Validate())
	assert.Error(t, DirectorySnapshot{Entries: map[string]string{"17": "bogus"}}.Validate())
}
