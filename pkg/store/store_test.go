package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/freedm/core/pkg/dataobject"
	"github.com/freedm/core/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory Backend used to exercise Store's
// domain-independent bookkeeping without any real persistence medium.
type fakeBackend struct {
	mu          sync.Mutex
	written     map[string]map[string]any
	loadCount   int
	unloaded    []string
	failSetRaw  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{written: make(map[string]map[string]any)}
}

func (b *fakeBackend) LoadDomain(domain string) (*dataobject.Object, error) {
	b.mu.Lock()
	b.loadCount++
	b.mu.Unlock()
	return dataobject.New("fake"), nil
}

func (b *fakeBackend) UnloadDomain(domain string, obj *dataobject.Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unloaded = append(b.unloaded, domain)
	return nil
}

func (b *fakeBackend) GetRaw(domain string, obj *dataobject.Object, key string) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.written[domain]; ok {
		if v, ok := d[key]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no raw value for %s.%s", domain, key)
}

func (b *fakeBackend) SetRaw(domain string, obj *dataobject.Object, key string, value any) error {
	if b.failSetRaw {
		return fmt.Errorf("simulated backend failure")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.written[domain] == nil {
		b.written[domain] = make(map[string]any)
	}
	b.written[domain][key] = value
	return nil
}

func newTestStore(persistent, synced, parallel bool, backend *fakeBackend) *Store {
	return New(Config{
		Name:         "test",
		Persistent:   persistent,
		Writable:     true,
		Synced:       synced,
		SyncParallel: parallel,
		Registry:     model.NewRegistry(),
	}, backend)
}

func TestSetThenGetRoundtripsThroughCache(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(true, false, false, backend)

	ok := s.Set("freedm.network.name", "free.dm")
	require.True(t, ok)

	got := s.Get("freedm.network.name", nil)
	assert.Equal(t, "free.dm", got)
}

func TestSetOnNonWritableStoreFails(t *testing.T) {
	backend := newFakeBackend()
	s := New(Config{Name: "ro", Writable: false, Registry: model.NewRegistry()}, backend)

	ok := s.Set("freedm.network.name", "x")
	assert.False(t, ok)
}

func TestSyncedPersistentStoreWritesThroughImmediately(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(true, true, false, backend)

	ok := s.Set("freedm.network.name", "free.dm")
	require.True(t, ok)

	v, err := backend.GetRaw("freedm", nil, "network.name")
	require.NoError(t, err)
	assert.Equal(t, "free.dm", v)
	assert.Empty(t, s.SyncDomains(), "immediate write-through should clear the token's taint")
}

func TestUnsyncedStoreRequiresExplicitSync(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(true, false, false, backend)

	require.True(t, s.Set("freedm.network.name", "free.dm"))
	assert.Contains(t, s.SyncDomains(), "freedm")

	require.NoError(t, s.Sync(context.Background(), false))
	assert.Empty(t, s.SyncDomains())

	v, err := backend.GetRaw("freedm", nil, "network.name")
	require.NoError(t, err)
	assert.Equal(t, "free.dm", v)
}

func TestParallelSyncSyncsEveryTaintedDomain(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(true, false, true, backend)

	require.True(t, s.Set("alpha.x", 1))
	require.True(t, s.Set("beta.y", 2))

	require.NoError(t, s.Sync(context.Background(), false))
	assert.Empty(t, s.SyncDomains())

	_, err := backend.GetRaw("alpha", nil, "x")
	assert.NoError(t, err)
	_, err = backend.GetRaw("beta", nil, "y")
	assert.NoError(t, err)
}

func TestGetFallsBackToDefaultWhenMissing(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(true, false, false, backend)

	got := s.Get("freedm.network.name", "fallback")
	assert.Equal(t, "fallback", got)
}

func TestEphemeralStoreClearsTaintInsteadOfSyncing(t *testing.T) {
	backend := newFakeBackend()
	s := New(Config{Name: "mem", Writable: true, Persistent: false, Registry: model.NewRegistry()}, backend)

	require.True(t, s.Set("freedm.x", 1))
	require.NoError(t, s.Sync(context.Background(), false))
	assert.Empty(t, s.SyncDomains())
}

func TestReleaseUnloadsEveryDomain(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(true, false, false, backend)

	require.True(t, s.Set("alpha.x", 1))
	require.True(t, s.Set("beta.y", 2))

	require.NoError(t, s.Release())
	assert.ElementsMatch(t, []string{"alpha", "beta"}, backend.unloaded)
}
