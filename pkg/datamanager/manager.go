// Package datamanager implements the Data Manager: the top-level
// facility that owns a set of named data stores and routes a
// store-qualified token to the right one. Where the original dynamically
// attaches a get<Alias>/set<Alias> method pair to itself for every
// registered store, this package hands out a typed StoreHandle bound to
// one alias instead — the same ergonomic shortcut without reflection or
// dynamic dispatch.
package datamanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/store"
	"golang.org/x/sync/errgroup"
)

// Manager owns an ordered collection of stores, keyed by their
// capitalized alias.
type Manager struct {
	mu     sync.RWMutex
	path   string
	stores map[string]*store.Store
	order  []string
}

// New returns an empty Manager rooted at path. Path is informational —
// callers pass it to stores they construct themselves; the manager has
// no other use for it.
func New(path string) *Manager {
	return &Manager{path: path, stores: make(map[string]*store.Store)}
}

// Path returns the manager's configured root path.
func (m *Manager) Path() string { return m.path }

func normalizeAlias(alias string) string {
	if alias == "" {
		return alias
	}
	return strings.ToUpper(alias[:1]) + strings.ToLower(alias[1:])
}

// RegisterStore adds s under alias. Registering the same alias twice
// fails; unregister the existing store first to replace it.
func (m *Manager) RegisterStore(alias string, s *store.Store) error {
	alias = normalizeAlias(alias)
	if alias == "" {
		return fmt.Errorf("store alias must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.stores[alias]; exists {
		return fmt.Errorf("a store named %q is already registered", alias)
	}
	m.stores[alias] = s
	m.order = append(m.order, alias)
	log.WithComponent("manager").Debug().Str("store", alias).Msg("registered data store")
	return nil
}

// UnregisterStore syncs and removes the store registered under alias.
func (m *Manager) UnregisterStore(ctx context.Context, alias string) error {
	alias = normalizeAlias(alias)

	m.mu.Lock()
	s, exists := m.stores[alias]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("store %q is not registered", alias)
	}
	delete(m.stores, alias)
	for i, a := range m.order {
		if a == alias {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	return s.Sync(ctx, false)
}

// Store returns the store registered under alias, or nil.
func (m *Manager) Store(alias string) *store.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores[normalizeAlias(alias)]
}

// Stores returns every registered store in registration order.
func (m *Manager) Stores() []*store.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*store.Store, 0, len(m.order))
	for _, alias := range m.order {
		out = append(out, m.stores[alias])
	}
	return out
}

// Aliases returns every registered store's alias, in registration order.
func (m *Manager) Aliases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Get looks up token in the named store's data.
func (m *Manager) Get(alias, tokenStr string, def any) any {
	s := m.Store(alias)
	if s == nil {
		log.WithComponent("manager").Warn().Str("store", alias).Msg("store not registered")
		return def
	}
	return s.Get(tokenStr, def)
}

// Set writes token's value in the named store.
func (m *Manager) Set(alias, tokenStr string, value any) bool {
	s := m.Store(alias)
	if s == nil {
		log.WithComponent("manager").Warn().Str("store", alias).Msg("store not registered")
		return false
	}
	return s.Set(tokenStr, value)
}

// Sync syncs one named store, or every registered store when alias is
// empty.
func (m *Manager) Sync(ctx context.Context, alias string) error {
	if alias != "" {
		s := m.Store(alias)
		if s == nil {
			return fmt.Errorf("store %q is not registered", alias)
		}
		return s.Sync(ctx, false)
	}

	for _, s := range m.Stores() {
		if err := s.Sync(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// Release tells every registered store to release its backend handles
// concurrently, collecting (not aborting on) per-store errors.
func (m *Manager) Release() error {
	stores := m.Stores()
	errs := make([]error, len(stores))
	var g errgroup.Group
	for i, s := range stores {
		i, s := i, s
		g.Go(func() error {
			errs[i] = s.Release()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// StoreHandle is a typed facade bound to one store's alias, standing in
// for the original's dynamically attached get<Alias>/set<Alias> method
// pair.
type StoreHandle struct {
	manager *Manager
	alias   string
}

// Handle returns a StoreHandle bound to alias. The store need not be
// registered yet; the handle resolves it lazily on each call.
func (m *Manager) Handle(alias string) StoreHandle {
	return StoreHandle{manager: m, alias: alias}
}

// Get looks up token via the bound store.
func (h StoreHandle) Get(tokenStr string, def any) any {
	return h.manager.Get(h.alias, tokenStr, def)
}

// Set writes token's value via the bound store.
func (h StoreHandle) Set(tokenStr string, value any) bool {
	return h.manager.Set(h.alias, tokenStr, value)
}
