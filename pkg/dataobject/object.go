// Package dataobject implements a single data domain's materialized state:
// a mutable nested tree of maps, sequences and scalars, addressed by
// dotted tokens, with taint tracking for pending backend syncs.
package dataobject

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/freedm/core/pkg/token"
)

// LookupError is returned by Get when a token cannot be resolved against
// the current tree. It is an expected outcome, not a defect — callers that
// want "load or null" semantics should type-assert for it rather than
// treating it as a fatal condition.
type LookupError struct {
	Token  string
	Reason string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("token %q: %s", e.Token, e.Reason)
}

// Object is one domain's nested data tree plus its backend handle and
// taint log. The zero value is a usable, empty object.
type Object struct {
	mu sync.RWMutex

	data any // map[string]any | []any | scalar | nil

	backend string    // opaque backend descriptor, e.g. a file path
	handle  io.Closer // an optional owned IO handle

	changed []string // ordered, de-duplicated taint log (raw token order)
	syncing bool
}

// New creates an empty Object, optionally carrying a backend descriptor.
func New(backend string) *Object {
	return &Object{backend: backend}
}

// Backend returns the object's opaque backend descriptor.
func (o *Object) Backend() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.backend
}

// SetHandle adopts an IO handle owned by this object. Any previously owned
// handle is closed first.
func (o *Object) SetHandle(h io.Closer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handle != nil {
		_ = o.handle.Close()
	}
	o.handle = h
}

// CloseHandle closes and forgets the object's owned IO handle, if any.
func (o *Object) CloseHandle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.handle == nil {
		return nil
	}
	err := o.handle.Close()
	o.handle = nil
	return err
}

// Syncing reports whether this object is currently being synced to its
// backend, a flag mutually exclusive with concurrent load/unload.
func (o *Object) Syncing() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.syncing
}

// SetSyncing sets or clears the syncing flag.
func (o *Object) SetSyncing(mode bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.syncing = mode
}

// Tainted reports whether the change log is non-empty.
func (o *Object) Tainted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.changed) > 0
}

// Raw returns the root value for read-only inspection by a store backend
// (e.g. to serialize the whole domain). Callers must not mutate it.
func (o *Object) Raw() any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.data
}

// ReplaceRaw installs a new root value wholesale (used by backends after a
// fresh parse), without touching the taint log.
func (o *Object) ReplaceRaw(v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = v
}

// Get walks path (a dot-separated key path with no domain prefix) through
// the tree and returns the addressed value, or a *LookupError.
func (o *Object) Get(path string) (any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if path == "" {
		return o.data, nil
	}
	segs := token.ParsePath(path)
	return get(o.data, segs, path)
}

func get(data any, segs []token.Segment, fullToken string) (any, error) {
	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		switch seg.Kind {
		case token.KindIndex:
			switch d := data.(type) {
			case map[string]any:
				if v, ok := d[seg.Text]; ok {
					data = v
					continue
				}
				return nil, &LookupError{Token: fullToken, Reason: fmt.Sprintf("key %q not found", seg.Text)}
			case []any:
				if seg.Index < 0 || seg.Index >= len(d) {
					return nil, &LookupError{Token: fullToken, Reason: fmt.Sprintf("index %d out of range", seg.Index)}
				}
				data = d[seg.Index]
			default:
				return nil, &LookupError{Token: fullToken, Reason: fmt.Sprintf("key %q not found", seg.Text)}
			}

		case token.KindAppend:
			switch d := data.(type) {
			case map[string]any:
				if seq, ok := reshapeNumericMap(d); ok {
					data = seq
				} else {
					return nil, &LookupError{Token: fullToken, Reason: `key "[]" cannot be resolved as collection`}
				}
			case []any:
				// a sequence stays a sequence
			default:
				return nil, &LookupError{Token: fullToken, Reason: `key "[]" cannot be resolved as collection`}
			}

		case token.KindWildcard:
			rest := segs[i+1:]
			if len(rest) == 0 {
				// Terminal wildcard: the spec's documented output shape —
				// child values as-is for a sequence, single-key wrappers
				// for a mapping with non-numeric keys.
				children, err := wildcardWrapped(data)
				if err != nil {
					return nil, &LookupError{Token: fullToken, Reason: err.Error()}
				}
				return children, nil
			}
			// Non-terminal wildcard: further segments project through the
			// unwrapped value of every child.
			children, err := wildcardValues(data)
			if err != nil {
				return nil, &LookupError{Token: fullToken, Reason: err.Error()}
			}
			var results []any
			for _, child := range children {
				v, err := get(child, rest, fullToken)
				if err == nil {
					results = append(results, v)
				}
			}
			if len(results) == 0 {
				return nil, &LookupError{Token: fullToken, Reason: "wildcard projection matched nothing"}
			}
			return results, nil

		default: // KindIdentifier
			switch d := data.(type) {
			case map[string]any:
				v, ok := d[seg.Text]
				if !ok {
					return nil, &LookupError{Token: fullToken, Reason: fmt.Sprintf("key %q not found", seg.Text)}
				}
				data = v
			case []any:
				var results []any
				for _, item := range d {
					if m, ok := item.(map[string]any); ok {
						if v, ok := m[seg.Text]; ok {
							results = append(results, v)
						}
					}
				}
				if len(results) == 0 {
					return nil, &LookupError{Token: fullToken, Reason: fmt.Sprintf("key %q not set in any objects", seg.Text)}
				}
				data = results
			default:
				return nil, &LookupError{Token: fullToken, Reason: fmt.Sprintf("key/value mismatch for %q", seg.Text)}
			}
		}
	}
	return data, nil
}

// reshapeNumericMap reshapes a mapping whose keys are all decimal integers
// into a sequence, stable-ordered by the integer key. Returns ok=false if
// the mapping is empty or has any non-numeric key.
func reshapeNumericMap(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, false
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)
	seq := make([]any, 0, len(keys))
	for _, k := range keys {
		seq = append(seq, m[strconv.Itoa(k)])
	}
	return seq, true
}

// wildcardWrapped returns the terminal-position wildcard result: every
// child value of a sequence as-is, or every child value of a non-numeric
// mapping wrapped as a single-key {key: value} map.
func wildcardWrapped(data any) ([]any, error) {
	switch d := data.(type) {
	case map[string]any:
		if seq, ok := reshapeNumericMap(d); ok {
			return seq, nil
		}
		keys := sortedKeys(d)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, map[string]any{k: d[k]})
		}
		return out, nil
	case []any:
		return d, nil
	default:
		return nil, fmt.Errorf("wildcard cannot project through a scalar")
	}
}

// wildcardValues returns the unwrapped child values of data, used when a
// wildcard is followed by further path segments that project through
// every child.
func wildcardValues(data any) ([]any, error) {
	switch d := data.(type) {
	case map[string]any:
		if seq, ok := reshapeNumericMap(d); ok {
			return seq, nil
		}
		keys := sortedKeys(d)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, d[k])
		}
		return out, nil
	case []any:
		return d, nil
	default:
		return nil, fmt.Errorf("wildcard cannot project through a scalar")
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set writes value at path, creating intermediate maps/sequences as
// needed, and records the canonical (resolved) token in the taint log.
// Returns true on success.
func (o *Object) Set(path string, value any) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if path == "" {
		o.data = value
		o.markTainted("*")
		return true, nil
	}

	segs := token.ParsePath(path)
	canonical := make([]string, len(segs))
	newRoot, err := setAt(o.data, segs, value, canonical)
	if err != nil {
		return false, err
	}
	o.data = newRoot
	o.markTainted(strings.Join(canonical, "."))
	return true, nil
}

// setAt recursively rebuilds the path from container downward, returning
// the (possibly new) container value and filling canonical[i] with the
// concrete key actually written at depth i.
func setAt(container any, segs []token.Segment, value any, canonical []string) (any, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	rest := segs[1:]
	last := len(rest) == 0

	switch seg.Kind {
	case token.KindAppend:
		switch c := container.(type) {
		case []any:
			idx := len(c)
			canonical[0] = strconv.Itoa(idx)
			var child any
			if last {
				child = value
			} else {
				nested, err := setAt(nil, rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
				child = nested
			}
			return append(c, child), nil
		case map[string]any:
			nextKey := nextNumericKey(c)
			canonical[0] = nextKey
			var child any
			if last {
				child = value
			} else {
				nested, err := setAt(c[nextKey], rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
				child = nested
			}
			c[nextKey] = child
			return c, nil
		case nil:
			// Mirrors the reference implementation: the first "[]" write
			// against an absent field starts a map keyed "0", not a bare
			// slice — later appends then follow the mapping branch above.
			canonical[0] = "0"
			var child any
			var err error
			if last {
				child = value
			} else {
				child, err = setAt(nil, rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
			}
			return map[string]any{"0": child}, nil
		default:
			return nil, fmt.Errorf(`cannot append "[]" onto a scalar value`)
		}

	case token.KindIndex:
		switch c := container.(type) {
		case []any:
			canonical[0] = strconv.Itoa(seg.Index)
			for len(c) <= seg.Index {
				c = append(c, nil)
			}
			var child any
			var err error
			if last {
				child = value
			} else {
				child, err = setAt(c[seg.Index], rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
			}
			c[seg.Index] = child
			return c, nil
		case map[string]any:
			canonical[0] = seg.Text
			var child any
			var err error
			if last {
				child = value
			} else {
				child, err = setAt(c[seg.Text], rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
			}
			c[seg.Text] = child
			return c, nil
		case nil:
			canonical[0] = seg.Text
			var child any
			var err error
			if last {
				child = value
			} else {
				child, err = setAt(nil, rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
			}
			return map[string]any{seg.Text: child}, nil
		default:
			return nil, fmt.Errorf("cannot index a scalar value with key %q", seg.Text)
		}

	default: // KindIdentifier; a KindWildcard segment also lands here and is written as a literal "+" key
		canonical[0] = seg.Text
		switch c := container.(type) {
		case map[string]any:
			var child any
			var err error
			if last {
				child = value
			} else {
				child, err = setAt(c[seg.Text], rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
			}
			c[seg.Text] = child
			return c, nil
		case []any:
			if !last {
				return nil, fmt.Errorf("cannot descend through key %q into a sequence element", seg.Text)
			}
			if len(c) == 0 {
				return nil, fmt.Errorf("cannot set key %q on an empty sequence", seg.Text)
			}
			lastElem := c[len(c)-1]
			m, ok := lastElem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("last sequence element is not a mapping")
			}
			m[seg.Text] = value
			return c, nil
		case nil:
			var child any
			var err error
			if last {
				child = value
			} else {
				child, err = setAt(nil, rest, value, canonical[1:])
				if err != nil {
					return nil, err
				}
			}
			return map[string]any{seg.Text: child}, nil
		default:
			return nil, fmt.Errorf("cannot set key %q on a scalar value", seg.Text)
		}
	}
}

func nextNumericKey(m map[string]any) string {
	maxKey := -1
	for k := range m {
		if n, err := strconv.Atoi(k); err == nil && n > maxKey {
			maxKey = n
		}
	}
	return strconv.Itoa(maxKey + 1)
}

// markTainted adds token to the change log, de-duplicated, without
// reducing it yet (reduction happens on read, in GetTainted).
func (o *Object) markTainted(tok string) {
	for _, t := range o.changed {
		if t == tok {
			return
		}
	}
	o.changed = append(o.changed, tok)
}

// SetTainted marks tok as changed, as if a write to it had just occurred.
func (o *Object) SetTainted(tok string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if tok == "" {
		tok = "*"
	}
	o.markTainted(tok)
}

// ClearTainted empties the change log without returning it.
func (o *Object) ClearTainted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changed = nil
}

// GetTainted returns the reduced taint set: a token that has another
// listed token as a strict dotted-path prefix is dropped, since a coarser
// change subsumes finer ones. If reset is true, the change log is also
// emptied.
func (o *Object) GetTainted(reset bool) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	tokens := make([]string, len(o.changed))
	copy(tokens, o.changed)
	if reset {
		o.changed = nil
	}

	for _, t := range tokens {
		if t == "" || t == "*" {
			return []string{"*"}
		}
	}

	sort.Strings(tokens)
	var reduced []string
	for _, t := range tokens {
		if len(reduced) > 0 && isPrefixToken(reduced[len(reduced)-1], t) {
			continue
		}
		reduced = append(reduced, t)
	}
	return reduced
}

// isPrefixToken reports whether prefix equals t or is a dotted-path prefix
// of t (e.g. "a" is a prefix of "a.b", but "a.b" is not a prefix of "a.bc").
func isPrefixToken(prefix, t string) bool {
	if prefix == t {
		return true
	}
	return strings.HasPrefix(t, prefix+".")
}

// UpdateData replaces this object's tree in place, preserving its
// identity so existing references (e.g. a store's domain map) keep
// working. Any owned IO handle is closed and replaced by other's handle;
// the taint log is inherited if other is tainted, otherwise cleared.
func (o *Object) UpdateData(other *Object) {
	o.mu.Lock()
	other.mu.Lock()
	defer other.mu.Unlock()
	defer o.mu.Unlock()

	o.data = other.data

	if o.handle != nil {
		_ = o.handle.Close()
	}
	o.handle = other.handle
	other.handle = nil

	if len(other.changed) > 0 {
		o.changed = append([]string(nil), other.changed...)
	} else {
		o.changed = nil
	}
}
