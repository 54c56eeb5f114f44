package kvstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects changes delivered to a view
type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

// exerciseBackend runs the shared behaviour checks against any backend.
// wait blocks until asynchronous notification delivery has settled.
func exerciseBackend(t *testing.T, backend Backend, wait func(cond func() bool)) {
	t.Helper()
	ctx := context.Background()

	tabA := NewStore(backend, "client:1:", "tab-a")
	tabB := NewStore(backend, "client:1:", "tab-b")
	other := NewStore(backend, "client:2:", "tab-c")

	var seenA, seenB, seenOther recorder
	defer tabA.OnExternalChange(seenA.record)()
	defer tabB.OnExternalChange(seenB.record)()
	defer other.OnExternalChange(seenOther.record)()

	_, err := tabA.Get(ctx, "auth_token")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tabA.Set(ctx, "auth_token", "abc123"))

	value, err := tabB.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", value)

	_, err = other.Get(ctx, "auth_token")
	assert.ErrorIs(t, err, ErrNotFound, "namespaces must not leak")

	wait(func() bool { return len(seenB.snapshot()) == 1 })
	assert.Equal(t, []Change{{Key: "auth_token", Value: "abc123", Origin: "tab-a"}}, seenB.snapshot())

	require.NoError(t, tabB.Delete(ctx, "auth_token", "user_data"))
	_, err = tabA.Get(ctx, "auth_token")
	assert.ErrorIs(t, err, ErrNotFound)

	wait(func() bool { return len(seenA.snapshot()) == 1 })
	assert.Equal(t, []Change{{Key: "auth_token", Deleted: true, Origin: "tab-b"}}, seenA.snapshot(),
		"only keys that existed produce a change")

	assert.Len(t, seenB.snapshot(), 1, "writer must not observe its own writes")
	assert.Empty(t, seenOther.snapshot())
}

func immediate(cond func() bool) {}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	exerciseBackend(t, backend, immediate)
	assert.Equal(t, 0, backend.Len())
}

func TestLRUBackend(t *testing.T) {
	backend := NewLRUBackend(16, 0)
	defer backend.Close()

	exerciseBackend(t, backend, immediate)
}

func TestLRUBackend_Evicts(t *testing.T) {
	ctx := context.Background()
	backend := NewLRUBackend(2, 0)
	store := NewStore(backend, "", "tab")

	require.NoError(t, store.Set(ctx, "a", "1"))
	require.NoError(t, store.Set(ctx, "b", "2"))
	require.NoError(t, store.Set(ctx, "c", "3"))

	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, backend.Len())
}

func TestStore_CancelWatch(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	writer := NewStore(backend, "p:", "w")
	reader := NewStore(backend, "p:", "r")

	var seen recorder
	cancel := reader.OnExternalChange(seen.record)
	cancel()
	cancel()

	require.NoError(t, writer.Set(ctx, "k", "v"))
	assert.Empty(t, seen.snapshot())
	assert.Equal(t, "w", writer.Origin())
}

func TestStore_DeleteNothing(t *testing.T) {
	store := NewStore(NewMemoryBackend(), "p:", "w")
	assert.NoError(t, store.Delete(context.Background()))
}
