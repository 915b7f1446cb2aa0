package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDomainReturnsFreshEmptyObject(t *testing.T) {
	s := New()
	obj, err := s.LoadDomain("session")
	require.NoError(t, err)

	ok, err := obj.Set("user", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetRawAlwaysMisses(t *testing.T) {
	s := New()
	obj, _ := s.LoadDomain("session")
	_, err := s.GetRaw("session", obj, "user")
	assert.Error(t, err)
}
