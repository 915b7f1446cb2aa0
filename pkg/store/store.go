// Package store implements the Data Store abstraction: a named, ordered
// collection of data domains backed by a concrete storage medium (INI
// files, an in-process map, a SQL database, a BoltDB file). Store itself
// carries all of the backend-independent bookkeeping — domain loading and
// caching, validation against the model registry, tainted-token sync
// scheduling — and defers the actual persistence to a Backend
// implementation supplied by one of the store/*store subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/freedm/core/pkg/dataobject"
	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/model"
	"github.com/freedm/core/pkg/token"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Backend supplies the persistence-specific half of a Store: how a domain
// is loaded from and written back to the concrete medium.
type Backend interface {
	// LoadDomain reads domain's data from the backend and returns a fresh
	// data object for it. A domain that does not yet exist in the backend
	// is not an error; return an empty object.
	LoadDomain(domain string) (*dataobject.Object, error)

	// UnloadDomain releases any backend-held resources for domain (open
	// file handles, watches). It does not need to flush pending changes;
	// callers sync before unloading if that is desired.
	UnloadDomain(domain string, obj *dataobject.Object) error

	// GetRaw reads a single key's current value directly from the
	// backend, bypassing the domain's in-memory cache. Used when the
	// cached object does not have the key.
	GetRaw(domain string, obj *dataobject.Object, key string) (any, error)

	// SetRaw writes a single key's value directly to the backend. Called
	// immediately after a write when the store runs in synced mode, and
	// once per tainted key during Sync otherwise.
	SetRaw(domain string, obj *dataobject.Object, key string, value any) error
}

// Config configures a Store at construction time.
type Config struct {
	Name         string
	Alias        string
	Description  string
	Persistent   bool
	Writable     bool
	Synced       bool
	SyncParallel bool
	SyncMaxConcurrency int
	Registry     *model.Registry
}

// Store is a named collection of data domains sharing one backend.
type Store struct {
	name        string
	alias       string
	description string
	persistent  bool
	writable    bool
	synced      bool

	syncParallel       bool
	syncMaxConcurrency int

	backend  Backend
	registry *model.Registry

	mu      sync.RWMutex
	domains map[string]*dataobject.Object

	syncGroup singleflight.Group
}

// New constructs a Store around backend. Writable is forced to true when
// Persistent is set, mirroring the rule that a persistent store must also
// be able to write back to its medium.
func New(cfg Config, backend Backend) *Store {
	writable := cfg.Writable || cfg.Persistent
	maxConcurrency := cfg.SyncMaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	registry := cfg.Registry
	if registry == nil {
		registry = model.Global()
	}
	return &Store{
		name:               cfg.Name,
		alias:              cfg.Alias,
		description:        cfg.Description,
		persistent:         cfg.Persistent,
		writable:           writable,
		synced:             cfg.Synced,
		syncParallel:       cfg.SyncParallel,
		syncMaxConcurrency: maxConcurrency,
		backend:            backend,
		registry:           registry,
		domains:            make(map[string]*dataobject.Object),
	}
}

func (s *Store) String() string { return fmt.Sprintf("<Store: %s>", s.Alias()) }

// Alias returns the store's alias, defaulting to its capitalized name.
func (s *Store) Alias() string {
	if s.alias != "" {
		return s.alias
	}
	if s.name == "" {
		return "Data"
	}
	return strings.ToUpper(s.name[:1]) + strings.ToLower(s.name[1:])
}

func (s *Store) Persistent() bool { return s.persistent }
func (s *Store) Writable() bool   { return s.writable }
func (s *Store) Synced() bool     { return s.synced }

// GetDomain returns the named domain's data object, auto-loading it via
// the backend on first access.
func (s *Store) GetDomain(domain string) (*dataobject.Object, error) {
	domain = strings.ToLower(domain)

	s.mu.RLock()
	obj, ok := s.domains[domain]
	s.mu.RUnlock()
	if ok {
		return obj, nil
	}
	return s.LoadDomain(domain)
}

// LoadDomain loads (or reloads) domain from the backend. A domain already
// loaded and not mid-sync has the freshly loaded data merged into the
// existing object, preserving its identity for callers holding a
// reference to it.
func (s *Store) LoadDomain(domain string) (*dataobject.Object, error) {
	domain = strings.ToLower(domain)

	loaded, err := s.backend.LoadDomain(domain)
	if err != nil {
		log.WithAlias(s.Alias()).Warn().Err(err).Str("domain", domain).Msg("failed to load data domain")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.domains[domain]; ok && !existing.Syncing() {
		existing.UpdateData(loaded)
		return existing, nil
	}
	s.domains[domain] = loaded
	return loaded, nil
}

// UnloadDomain releases domain's backend resources and drops it from the
// store's cache, optionally syncing pending changes first.
func (s *Store) UnloadDomain(ctx context.Context, domain string, sync bool) error {
	domain = strings.ToLower(domain)

	s.mu.Lock()
	obj, ok := s.domains[domain]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("data domain %q was not loaded", domain)
	}
	delete(s.domains, domain)
	s.mu.Unlock()

	if sync && obj.Tainted() {
		if err := s.SyncDomain(ctx, domain, false); err != nil {
			log.WithAlias(s.Alias()).Warn().Err(err).Str("domain", domain).Msg("sync before unload failed")
		}
	}
	if err := s.backend.UnloadDomain(domain, obj); err != nil {
		return err
	}
	return obj.CloseHandle()
}

// Get resolves token, preferring the cached domain value, falling back to
// a raw backend read, and finally to a caller-supplied default. If def
// equals token verbatim, the model registry's computed default for token
// is used instead of def itself — the convention used throughout the
// daemon to mean "whatever the schema says belongs here".
func (s *Store) Get(tokenStr string, def any) any {
	tokenStr = strings.TrimSuffix(tokenStr, ".[]")

	t := token.Parse(tokenStr)
	keyPath := token.JoinPath(t.Path)

	obj, err := s.GetDomain(t.Domain)
	var value any
	if err == nil {
		if v, gerr := obj.Get(keyPath); gerr == nil {
			value = v
		} else if v, rerr := s.backend.GetRaw(t.Domain, obj, keyPath); rerr == nil {
			value = v
		}
	}

	if value != nil {
		if validated, ok := s.registry.Validate(tokenStr, value); ok {
			return validated
		}
		log.WithAlias(s.Alias()).Warn().Str("token", tokenStr).Msg("stored value failed model validation")
		return nil
	}

	if def == nil {
		return nil
	}
	if defStr, ok := def.(string); ok && defStr == tokenStr {
		return s.registry.Default(tokenStr)
	}
	if validated, ok := s.registry.Validate(tokenStr, def); ok {
		return validated
	}
	return nil
}

// Set validates value against the model registry and writes it into the
// addressed domain. If the store is synced and persistent, the value is
// also written straight through to the backend and its taint cleared.
func (s *Store) Set(tokenStr string, value any) bool {
	if !s.writable {
		log.WithAlias(s.Alias()).Warn().Str("token", tokenStr).Msg("store is not writable")
		return false
	}
	if value == nil {
		return false
	}
	if _, ok := s.registry.Validate(tokenStr, value); !ok {
		log.WithAlias(s.Alias()).Warn().Str("token", tokenStr).Msg("value failed model validation")
		return false
	}

	t := token.Parse(tokenStr)
	keyPath := token.JoinPath(t.Path)

	obj, err := s.GetDomain(t.Domain)
	if err != nil {
		return false
	}

	ok, err := obj.Set(keyPath, value)
	if err != nil || !ok {
		log.WithAlias(s.Alias()).Warn().Err(err).Str("token", tokenStr).Msg("setting value failed")
		return false
	}

	if s.synced && s.persistent {
		if err := s.backend.SetRaw(t.Domain, obj, keyPath, value); err != nil {
			log.WithAlias(s.Alias()).Warn().Err(err).Str("token", tokenStr).Msg("immediate sync of value failed")
		} else {
			s.clearToken(obj, keyPath)
		}
	}
	return true
}

// clearToken drops keyPath's taint entry after an immediate write-through,
// without disturbing any other tainted tokens recorded since.
func (s *Store) clearToken(obj *dataobject.Object, keyPath string) {
	remaining := obj.GetTainted(true)
	for _, tok := range remaining {
		if tok == keyPath {
			continue
		}
		obj.SetTainted(tok)
	}
}

// SyncDomains returns the domains currently holding unsynced changes.
func (s *Store) SyncDomains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for name, obj := range s.domains {
		if obj.Tainted() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AllDomains returns every currently loaded domain name.
func (s *Store) AllDomains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.domains))
	for name := range s.domains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Sync writes back every tainted domain (or, with force, every loaded
// domain) to the backend. Concurrent calls to Sync on the same store are
// coalesced into a single in-flight sync via singleflight, resolving the
// original's re-entrant worker-queue pattern without a second caller
// racing the first over the same domain set.
func (s *Store) Sync(ctx context.Context, force bool) error {
	if !s.persistent {
		for _, domain := range s.SyncDomains() {
			s.mu.RLock()
			obj := s.domains[domain]
			s.mu.RUnlock()
			obj.ClearTainted()
		}
		return nil
	}

	_, err, _ := s.syncGroup.Do("sync", func() (any, error) {
		var domains []string
		if force {
			domains = s.AllDomains()
		} else {
			domains = s.SyncDomains()
		}
		if len(domains) == 0 {
			return nil, nil
		}

		if !s.syncParallel {
			for _, domain := range domains {
				if err := s.SyncDomain(ctx, domain, force); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.syncMaxConcurrency)
		for _, domain := range domains {
			domain := domain
			g.Go(func() error {
				return s.SyncDomain(gctx, domain, force)
			})
		}
		return nil, g.Wait()
	})
	return err
}

// SyncDomain writes back one domain's tainted keys token by token via the
// backend's SetRaw; with force, it writes the whole domain in a single
// SetRaw call under the empty token. A key that fails to write is
// re-marked tainted so a later sync retries it.
func (s *Store) SyncDomain(ctx context.Context, domain string, force bool) error {
	if !s.persistent {
		return fmt.Errorf("store %q is not persistent", s.Alias())
	}

	s.mu.RLock()
	obj, ok := s.domains[domain]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("data domain %q is not loaded", domain)
	}
	if !obj.Tainted() && !force {
		return nil
	}

	obj.SetSyncing(true)
	defer obj.SetSyncing(false)

	var tainted []string
	if force {
		tainted = []string{""}
	} else {
		tainted = obj.GetTainted(true)
	}

	for _, tok := range tainted {
		select {
		case <-ctx.Done():
			obj.SetTainted(tok)
			return ctx.Err()
		default:
		}

		lookup := tok
		if lookup == "*" {
			lookup = ""
		}
		value, err := obj.Get(lookup)
		if err != nil {
			obj.SetTainted(tok)
			continue
		}
		if err := s.backend.SetRaw(domain, obj, tok, value); err != nil {
			log.WithAlias(s.Alias()).Warn().Err(err).Str("domain", domain).Str("token", tok).Msg("failed to sync token")
			obj.SetTainted(tok)
		}
	}
	return nil
}

// Release closes every loaded domain's backend handle concurrently,
// collecting (but not aborting on) individual errors.
func (s *Store) Release() error {
	s.mu.RLock()
	domains := make([]string, 0, len(s.domains))
	for name := range s.domains {
		domains = append(domains, name)
	}
	s.mu.RUnlock()

	errs := make([]error, len(domains))
	var g errgroup.Group
	for i, name := range domains {
		i, name := i, name
		g.Go(func() error {
			s.mu.RLock()
			obj := s.domains[name]
			s.mu.RUnlock()
			if err := s.backend.UnloadDomain(name, obj); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = obj.CloseHandle()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
