package sealing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	s, err := NewSealer([]byte("secret"), "test")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("hello"), []byte("m1"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "hello")

	plain, err := s.Open(sealed, []byte("m1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	_, err = s.Open(sealed, []byte("m2"))
	assert.Error(t, err)

	_, err = s.Open([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDerivedKeysDiffer(t *testing.T) {
	a, err := NewSealer([]byte("secret"), "a")
	require.NoError(t, err)
	b, err := NewSealer([]byte("secret"), "b")
	require.NoError(t, err)
	again, err := NewSealer([]byte("secret"), "a")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("x"), nil)
	require.NoError(t, err)

	_, err = b.Open(sealed, nil)
	assert.Error(t, err)
	plain, err := again.Open(sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", string(plain))
}
