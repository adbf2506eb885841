package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat/internal/domain"
)

func TestVault(t *testing.T) {
	v, err := NewVault()
	require.NoError(t, err)

	require.NoError(t, v.Seal("m1", "secret"))
	for i := 0; i < 2; i++ {
		body, err := v.Open("m1")
		require.NoError(t, err)
		assert.Equal(t, "secret", body)
	}

	v.Forget("m1")
	_, err = v.Open("m1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, v.Seal("m2", "other"))
	v.Clear()
	_, err = v.Open("m2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
