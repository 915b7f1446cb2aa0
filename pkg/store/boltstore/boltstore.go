// Package boltstore implements a Data Store backend on top of a single
// embedded BoltDB file, adapted from the teacher's bucket-per-entity
// BoltDB storage layer: here one bucket holds one domain, and the bucket
// holds exactly one key ("root") whose value is the domain's entire JSON-
// encoded data tree. Like sqlstore, BoltDB serializes writers, so
// cmd/freedmd registers stores over this backend with sequential sync.
package boltstore

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/freedm/core/pkg/dataobject"
)

var rootKey = []byte("root")

// Store is the BoltDB Backend implementation.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) the BoltDB file at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database file.
func (s *Store) Close() error { return s.db.Close() }

// LoadDomain reads domain's bucket and decodes its root value into a
// fresh data object. A domain with no bucket yet (never written) yields
// an empty object.
func (s *Store) LoadDomain(domain string) (*dataobject.Object, error) {
	obj := dataobject.New("bolt")

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(domain))
		if b == nil {
			return nil
		}
		raw := b.Get(rootKey)
		if raw == nil {
			return nil
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decoding bolt domain %q: %w", domain, err)
		}
		obj.ReplaceRaw(decoded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// UnloadDomain is a no-op: the shared *bolt.DB handle has no per-domain
// resource to release.
func (s *Store) UnloadDomain(domain string, obj *dataobject.Object) error {
	return nil
}

// GetRaw re-reads domain's whole tree from the bucket and navigates to
// key, used when the cached object did not have the value.
func (s *Store) GetRaw(domain string, obj *dataobject.Object, key string) (any, error) {
	fresh, err := s.LoadDomain(domain)
	if err != nil {
		return nil, err
	}
	return fresh.Get(key)
}

// SetRaw writes the domain's entire current tree (as held by the cached
// object, which the generic Set already updated) back to its bucket as
// one JSON blob. BoltDB has no sub-document update primitive cheaper than
// this for an arbitrarily nested tree.
func (s *Store) SetRaw(domain string, obj *dataobject.Object, key string, value any) error {
	blob, err := json.Marshal(obj.Raw())
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(domain))
		if err != nil {
			return err
		}
		return b.Put(rootKey, blob)
	})
}
