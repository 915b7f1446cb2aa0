package inistore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDomainCoercesValueTypes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "network.ini", "[main]\nname=free.dm\nport=4000\nratio=0.5\nenabled=yes\ntags=[\"a\",\"b\"]\n")

	s, err := New(dir, "ini")
	require.NoError(t, err)

	obj, err := s.LoadDomain("network")
	require.NoError(t, err)

	v, err := obj.Get("main.name")
	require.NoError(t, err)
	assert.Equal(t, "free.dm", v)

	v, err = obj.Get("main.port")
	require.NoError(t, err)
	assert.Equal(t, 4000, v)

	v, err = obj.Get("main.ratio")
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	v, err = obj.Get("main.enabled")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = obj.Get("main.tags")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)
}

func TestLoadDomainWithMissingFileYieldsEmptyObject(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "ini")
	require.NoError(t, err)

	obj, err := s.LoadDomain("absent")
	require.NoError(t, err)
	v, err := obj.Get("")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, v)
}

func TestSetRawWritesBackToFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, "ini")
	require.NoError(t, err)

	obj, err := s.LoadDomain("network")
	require.NoError(t, err)

	require.NoError(t, s.SetRaw("network", obj, "main.name", "newname"))

	v, err := s.GetRaw("network", obj, "main.name")
	require.NoError(t, err)
	assert.Equal(t, "newname", v)
}

func TestWatchReportsRenameAsMovedDomains(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.ini", "[main]\nname=free.dm\n")

	s, err := New(dir, "ini")
	require.NoError(t, err)

	var mu sync.Mutex
	var movedFrom, movedTo string
	err = s.Watch(10*time.Millisecond,
		nil, nil, nil,
		func(oldDomain, newDomain string) {
			mu.Lock()
			movedFrom, movedTo = oldDomain, newDomain
			mu.Unlock()
		},
	)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.Rename(filepath.Join(dir, "old.ini"), filepath.Join(dir, "new.ini")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return movedTo != ""
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "old", movedFrom)
	assert.Equal(t, "new", movedTo)
}

func TestDomainsListsMatchingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.ini", "[x]\ny=1\n")
	writeFile(t, dir, "b.ini", "[x]\ny=1\n")
	writeFile(t, dir, "notes.txt", "ignore me")

	s, err := New(dir, "ini")
	require.NoError(t, err)

	domains, err := s.Domains()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, domains)
}
