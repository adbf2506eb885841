package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

// sequenceDraw returns the given offsets in order, then repeats the last.
func sequenceDraw(offsets ...int) func(int) int {
	i := 0
	return func(int) int {
		v := offsets[i]
		if i < len(offsets)-1 {
			i++
		}
		return v
	}
}

func newTestRegistry(t *testing.T) (*Registry, *mockStore, *IdentityMap, string) {
	t.Helper()
	store := newMockStore()
	identities := NewIdentityMap(store, nil, testTiming())
	self := newIdentity(t)
	r := NewRegistry(store, identities, func() (string, bool) { return self, true }, testTiming())
	return r, store, identities, self
}

func TestRegistryGenerateSkipsTakenHandles(t *testing.T) {
	ctx := context.Background()
	r, _, identities, _ := newTestRegistry(t)
	require.NoError(t, identities.AddMapping(ctx, "17", newIdentity(t)))

	// 17 is mapped
	r.draw = sequenceDraw(7, 8)
	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)
	assert.Equal(t, "18", handle)
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)

	// 18 is registered now
	r.draw = sequenceDraw(8, 7, 8, 20)
	handle, err = r.GenerateAvailableHandle()
	require.NoError(t, err)
	assert.Equal(t, "30", handle)
}

func TestRegistryGenerateReplacesReservation(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRegistry(t)

	var last string
	for i := 0; i < 200; i++ {
		r.draw = sequenceDraw(i % 90)
		handle, err := r.GenerateAvailableHandle()
		require.NoError(t, err)
		last = handle
	}
	reserved, ok := r.Reserved()
	require.True(t, ok)
	assert.Equal(t, last, reserved)

	// only the latest allocation can be registered
	_, err := r.RegisterUser(ctx, "10", "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = r.RegisterUser(ctx, last, "alice")
	require.NoError(t, err)

	_, ok = r.Reserved()
	assert.False(t, ok)
}

func TestRegistryGenerateExhausted(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRegistry(t)

	r.draw = sequenceDraw(0)
	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)

	_, err = r.GenerateAvailableHandle()
	assert.ErrorIs(t, err, domain.ErrHandlesExhausted)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "no free handle left", err.Error())
	_, ok := r.Reserved()
	assert.False(t, ok)
}

func TestRegistryRegisterUser(t *testing.T) {
	ctx := context.Background()
	r, store, _, _ := newTestRegistry(t)
	r.draw = sequenceDraw(7)

	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)

	user, err := r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)
	assert.Equal(t, "17", user.Handle)
	assert.True(t, user.IsOnline)
	assert.Equal(t, "17#alice", r.DisplayNameFor("17"))
	assert.Equal(t, 1, store.setCount(domain.KeyRegistry))

	_, err = r.RegisterUser(ctx, handle, "alice2")
	assert.ErrorIs(t, err, domain.ErrConflict)

	reloaded := NewRegistry(store, nil, nil, testTiming())
	reloaded.Load(ctx)
	got, err := reloaded.User("17")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Label)
}

func TestRegistryRequiresAllocation(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRegistry(t)

	_, err := r.RegisterUser(ctx, "42", "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRegistryLabelRules(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRegistry(t)
	r.draw = sequenceDraw(7, 8, 9)

	first, err := r.GenerateAvailableHandle()
	require.NoError(t, err)
	_, err = r.RegisterUser(ctx, first, "Alice")
	require.NoError(t, err)

	second, err := r.GenerateAvailableHandle()
	require.NoError(t, err)

	_, err = r.RegisterUser(ctx, second, "aLiCe")
	assert.ErrorIs(t, err, domain.ErrConflict)

	for _, label := range []string{"a", "this label is far too long", "-bob", "bob!", ""} {
		_, err = r.RegisterUser(ctx, second, label)
		assert.ErrorIs(t, err, domain.ErrValidation, label)
	}

	// the failed attempts kept the reservation
	_, err = r.RegisterUser(ctx, second, "bob.smith")
	require.NoError(t, err)
}

func TestRegistryCommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	r, store, _, _ := newTestRegistry(t)
	r.draw = sequenceDraw(7)

	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)

	store.failSet = errors.New("disk full")
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.Error(t, err)

	_, err = r.User(handle)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, handle, r.DisplayNameFor(handle))

	store.failSet = nil
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)
}

func TestRegistryRejectsHandleMappedToSomeoneElse(t *testing.T) {
	ctx := context.Background()
	r, _, identities, self := newTestRegistry(t)
	r.draw = sequenceDraw(7)

	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)

	// mapped after allocation
	require.NoError(t, identities.AddMapping(ctx, handle, newIdentity(t)))
	_, err = r.RegisterUser(ctx, handle, "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, identities.RemoveMapping(ctx, handle))
	require.NoError(t, identities.AddMapping(ctx, handle, self))
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)
}

func TestRegistryNicknames(t *testing.T) {
	ctx := context.Background()
	r, store, _, _ := newTestRegistry(t)

	assert.Equal(t, "45", r.DisplayNameFor("45"))

	require.NoError(t, r.SetNickname(ctx, "45", "bob"))
	assert.Equal(t, "45"+blurchat.DisplaySeparator+"bob", r.DisplayNameFor("45"))

	reloaded := NewRegistry(store, nil, nil, testTiming())
	reloaded.Load(ctx)
	nick, ok := reloaded.Nickname("45")
	require.True(t, ok)
	assert.Equal(t, "bob", nick)

	require.NoError(t, r.SetNickname(ctx, "45", ""))
	assert.Equal(t, "45", r.DisplayNameFor("45"))

	err := r.SetNickname(ctx, "45", "!")
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "nickname", verr.Field)
}

func TestRegistryLabelWinsOverNickname(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRegistry(t)
	r.draw = sequenceDraw(7)

	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)
	require.NoError(t, r.SetNickname(ctx, handle, "ally"))

	assert.Equal(t, "17#alice", r.DisplayNameFor(handle))
}

func TestRegistrySetOnline(t *testing.T) {
	ctx := context.Background()
	r, _, _, _ := newTestRegistry(t)
	r.draw = sequenceDraw(7)

	assert.ErrorIs(t, r.SetOnline(ctx, "17", false), domain.ErrNotFound)

	handle, err := r.GenerateAvailableHandle()
	require.NoError(t, err)
	_, err = r.RegisterUser(ctx, handle, "alice")
	require.NoError(t, err)

	require.NoError(t, r.SetOnline(ctx, handle, false))
	user, err := r.User(handle)
	require.NoError(t, err)
	assert.False(t, user.IsOnline)
}
