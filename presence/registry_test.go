package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterLookup(t *testing.T) {
	r := NewRegistry()
	h := newFakeHandle("a")

	_, ok := r.Lookup(1)
	assert.False(t, ok)

	r.Register(1, h)
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first, second := newFakeHandle("first"), newFakeHandle("second")

	r.Register(1, first)
	r.Register(1, second)

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "second", got.ID())
	assert.Equal(t, 1, r.Len())

	// the superseded connection closing must not evict the new one
	_, ok = r.UnregisterByHandle(first)
	assert.False(t, ok)
	_, ok = r.Lookup(1)
	assert.True(t, ok)
}

func TestRegistry_UnregisterByHandle(t *testing.T) {
	r := NewRegistry()
	a, b := newFakeHandle("a"), newFakeHandle("b")
	r.Register(1, a)
	r.Register(2, b)

	userID, ok := r.UnregisterByHandle(b)
	require.True(t, ok)
	assert.Equal(t, int64(2), userID)

	_, ok = r.Lookup(2)
	assert.False(t, ok)
	assert.Equal(t, []int64{1}, r.Users())

	_, ok = r.UnregisterByHandle(newFakeHandle("unknown"))
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_HandleMovesToNewUser(t *testing.T) {
	r := NewRegistry()
	h := newFakeHandle("a")

	r.Register(1, h)
	r.Register(2, h)

	_, ok := r.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, []int64{2}, r.Users())

	userID, ok := r.UnregisterByHandle(h)
	require.True(t, ok)
	assert.Equal(t, int64(2), userID)
	assert.Zero(t, r.Len())
}

func TestRegistry_UsersSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int64{5, 3, 9, 1} {
		r.Register(id, newFakeHandle(string(rune('a'+id))))
	}
	assert.Equal(t, []int64{1, 3, 5, 9}, r.Users())
}
