package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/infra/sealing"
	"github.com/totegamma/blurchat/internal/usecase"
)

func exerciseStore(t *testing.T, store usecase.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, domain.KeyRegistry)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Set(ctx, domain.KeyRegistry, []byte(`[]`)))
	got, err := store.Get(ctx, domain.KeyRegistry)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), got)

	require.NoError(t, store.Set(ctx, domain.KeyRegistry, []byte(`[1]`)))
	got, err = store.Get(ctx, domain.KeyRegistry)
	require.NoError(t, err)
	assert.Equal(t, []byte(`[1]`), got)

	require.NoError(t, store.Delete(ctx, domain.KeyRegistry))
	_, err = store.Get(ctx, domain.KeyRegistry)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestPebble(t *testing.T) {
	store, err := OpenPebble(filepath.Join(t.TempDir(), "db"), "17")
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)
}

func TestPebbleNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")

	a, err := OpenPebble(path, "a")
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "k", []byte("v")))
	b := &Pebble{db: a.db, namespace: "b"}

	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, a.Close())
}

func TestSealed(t *testing.T) {
	ctx := context.Background()
	sealer, err := sealing.NewSealer([]byte("device secret"), "kv")
	require.NoError(t, err)

	inner := NewMemory()
	store := NewSealed(inner, sealer)
	exerciseStore(t, store)

	require.NoError(t, store.Set(ctx, "nicknames", []byte(`{"45":"bob"}`)))
	raw, err := inner.Get(ctx, "nicknames")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "bob")

	// a value moved to another key no longer opens
	require.NoError(t, inner.Set(ctx, "registry", raw))
	_, err = store.Get(ctx, "registry")
	assert.Error(t, err)
}
