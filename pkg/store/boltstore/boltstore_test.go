package boltstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadDomainWithNoBucketYieldsEmptyObject(t *testing.T) {
	s := newTestStore(t)
	obj, err := s.LoadDomain("network")
	require.NoError(t, err)
	assert.Nil(t, obj.Raw())
}

func TestSetRawThenLoadDomainRoundtrips(t *testing.T) {
	s := newTestStore(t)
	obj, err := s.LoadDomain("network")
	require.NoError(t, err)

	_, err = obj.Set("main.name", "free.dm")
	require.NoError(t, err)
	require.NoError(t, s.SetRaw("network", obj, "main.name", "free.dm"))

	reloaded, err := s.LoadDomain("network")
	require.NoError(t, err)
	v, err := reloaded.Get("main.name")
	require.NoError(t, err)
	assert.Equal(t, "free.dm", v)
}

func TestGetRawReflectsLatestPersistedState(t *testing.T) {
	s := newTestStore(t)
	obj, err := s.LoadDomain("network")
	require.NoError(t, err)
	_, _ = obj.Set("main.port", 4000)
	require.NoError(t, s.SetRaw("network", obj, "main.port", 4000))

	v, err := s.GetRaw("network", obj, "main.port")
	require.NoError(t, err)
	assert.Equal(t, float64(4000), v)
}
