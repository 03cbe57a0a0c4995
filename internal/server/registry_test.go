package server

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(r *Registry, name string, cfg Config) *Client {
	return newClient(nil, r.NextIdentity(), name, "secret-"+name, "127.0.0.1:0", sanitizeConfig(cfg), zerolog.Nop())
}

func TestRegistry_IdentitiesAreNeverReused(t *testing.T) {
	r := NewRegistry()

	a := newTestClient(r, "a", Config{})
	require.NoError(t, r.Register(a))
	assert.Equal(t, int64(1), a.ID())

	assert.True(t, r.Remove(a.ID()))

	b := newTestClient(r, "b", Config{})
	require.NoError(t, r.Register(b))
	assert.Equal(t, int64(2), b.ID())
}

func TestRegistry_RegisterLookupRemove(t *testing.T) {
	r := NewRegistry()
	c := newTestClient(r, "alice", Config{})

	require.NoError(t, r.Register(c))
	require.ErrorIs(t, r.Register(c), ErrDuplicateIdentity)

	got, ok := r.Lookup(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove(c.ID()))
	assert.False(t, r.Remove(c.ID()), "second remove is a no-op")
	_, ok = r.Lookup(c.ID())
	assert.False(t, ok)
	assert.Zero(t, r.Len())
}

func TestRegistry_SnapshotIsDetached(t *testing.T) {
	r := NewRegistry()
	a := newTestClient(r, "a", Config{})
	b := newTestClient(r, "b", Config{})
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	snapshot := r.Snapshot()
	r.Remove(a.ID())

	assert.ElementsMatch(t, []*Client{a, b}, snapshot)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConcurrentIdentitiesAreUnique(t *testing.T) {
	r := NewRegistry()

	const n = 200
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.NextIdentity()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		assert.False(t, seen[id], "identity %d handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
