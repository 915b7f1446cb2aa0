// Package memstore implements a non-persistent, in-process Data Store
// backend: every domain lives only in memory for the lifetime of the
// process and is never written to any medium. It is the default backend
// for ephemeral data such as derived or transient state.
package memstore

import "github.com/freedm/core/pkg/dataobject"

// Store is the ephemeral Backend implementation. It has no filesystem
// location; domains are created empty on first access and simply
// discarded on unload.
type Store struct{}

// New constructs a memstore.Store.
func New() *Store { return &Store{} }

// LoadDomain always returns a fresh, empty data object: there is nothing
// to load from, since a memory store's data only ever exists because a
// caller Set() it after the domain was first created.
func (s *Store) LoadDomain(domain string) (*dataobject.Object, error) {
	return dataobject.New("memory"), nil
}

// UnloadDomain is a no-op; there is no backend resource to release.
func (s *Store) UnloadDomain(domain string, obj *dataobject.Object) error {
	return nil
}

// GetRaw never succeeds: a memory store's only copy of a value is the
// cached data object itself, so falling through to a raw read always
// means the key genuinely isn't set.
func (s *Store) GetRaw(domain string, obj *dataobject.Object, key string) (any, error) {
	return nil, &dataobject.LookupError{Token: key, Reason: "memory store has no backend to read from"}
}

// SetRaw is a no-op: a memory store is never persistent, so Store never
// calls SetRaw on it in practice, but implementing it keeps Backend total.
func (s *Store) SetRaw(domain string, obj *dataobject.Object, key string, value any) error {
	return nil
}
