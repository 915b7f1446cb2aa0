package model

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/freedm/core/pkg/log"
	"github.com/freedm/core/pkg/token"
	"gopkg.in/yaml.v3"
)

// Registry is a process-global table of per-domain schemas. The zero
// value is usable; Global returns the process-wide instance most callers
// should share, mirroring the single process-global registry of §6.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty, independent registry (useful in tests that
// must not share state with the process-global one).
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

var global = NewRegistry()

// Global returns the process-wide model registry.
func Global() *Registry { return global }

// Register installs schema under domain, replacing any previous schema for
// that domain.
func (r *Registry) Register(domain string, schema *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schemas == nil {
		r.schemas = make(map[string]*Schema)
	}
	r.schemas[domain] = schema
}

// RegisterJSON parses a JSON-encoded schema fragment and registers it.
func (r *Registry) RegisterJSON(domain string, data []byte) error {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing JSON schema for domain %q: %w", domain, err)
	}
	r.Register(domain, &s)
	return nil
}

// LoadYAMLFile reads a "<domain>.model.yaml" style schema file from disk
// and registers it. This supplements the original's compiled-in-only model
// definitions with a file-based path, so operators can add a domain model
// without rebuilding the binary.
func (r *Registry) LoadYAMLFile(domain, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading model file %q: %w", path, err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing model file %q: %w", path, err)
	}
	r.Register(domain, &s)
	return nil
}

// SchemaFor returns the raw registered schema for domain, or nil.
func (r *Registry) SchemaFor(domain string) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[domain]
}

// Default walks the registered schema for tokenStr's domain and computes
// the inferred default value for the addressed location, per §4.A. A
// missing schema (for the domain, or anywhere along the path) yields nil.
// A bare "[]" or "+" as the final path segment always collapses to an
// empty array, regardless of whether an items schema is present.
func (r *Registry) Default(tokenStr string) any {
	t := token.Parse(tokenStr)
	r.mu.RLock()
	schema := r.schemas[t.Domain]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	cur := schema
	for i, seg := range t.Path {
		last := i == len(t.Path)-1
		switch seg.Kind {
		case token.KindAppend, token.KindWildcard:
			if last {
				return []any{}
			}
			if cur.Items == nil {
				return nil
			}
			cur = cur.Items
		case token.KindIndex:
			if cur.Items == nil {
				return nil
			}
			cur = cur.Items
		default:
			if cur.Properties == nil {
				return nil
			}
			child, ok := cur.Properties[seg.Text]
			if !ok {
				return nil
			}
			cur = child
		}
	}
	return computeDefault(cur)
}

// computeDefault infers a schema's default per §3: array -> [], object ->
// a map populated with each required key's own computed default, scalar ->
// the declared default or nil.
func computeDefault(s *Schema) any {
	if s == nil {
		return nil
	}
	switch s.Type {
	case TypeArray:
		return []any{}
	case TypeObject:
		out := map[string]any{}
		for _, req := range s.Required {
			if child, ok := s.Properties[req]; ok {
				out[req] = computeDefault(child)
			} else {
				out[req] = nil
			}
		}
		return out
	default:
		if s.Default != nil {
			return s.Default
		}
		return nil
	}
}

// Validate checks value against the schema addressed by tokenStr,
// returning the (possibly normalized) value and true if it matches, or
// (nil, false) if it is rejected. A domain with no registered schema is
// permissive: anything validates, since there is nothing to check against.
func (r *Registry) Validate(tokenStr string, value any) (any, bool) {
	t := token.Parse(tokenStr)
	r.mu.RLock()
	schema := r.schemas[t.Domain]
	r.mu.RUnlock()
	if schema == nil {
		return value, true
	}
	return validateAt(schema, t.Path, value)
}

// IsValid is a thin wrapper returning (ok, value) on success or (false,
// reason) on failure, per §4.A.
func (r *Registry) IsValid(tokenStr string, value any) (bool, any) {
	v, ok := r.Validate(tokenStr, value)
	if !ok {
		return false, fmt.Sprintf("value for %q does not match its registered model", tokenStr)
	}
	return true, v
}

func validateAt(schema *Schema, segs []token.Segment, value any) (any, bool) {
	if len(segs) == 0 {
		return validateValue(schema, value)
	}

	seg := segs[0]
	rest := segs[1:]

	switch seg.Kind {
	case token.KindIdentifier:
		if schema == nil {
			return value, true
		}
		child, ok := schema.Properties[seg.Text]
		if !ok {
			allowed, explicit := schema.additionalPropertiesAllowed()
			if explicit && !allowed {
				return nil, false
			}
			if !explicit {
				log.Logger.Warn().Str("key", seg.Text).Msg("value accepted past the end of its registered schema")
			}
			return value, true
		}
		return validateAt(child, rest, value)

	case token.KindIndex:
		if schema == nil {
			return value, true
		}
		return validateAt(schema.Items, rest, value)

	case token.KindAppend:
		if schema == nil {
			return value, true
		}
		return validateAt(schema.Items, rest, value)

	default: // KindWildcard
		return validateWildcard(schema, rest, value)
	}
}

// validateWildcard validates each child of value independently, trying
// substitution by the array item schema first and by the object's own
// schema second (mirroring "substitute by child key" for object-shaped
// children), accepting the first that validates.
func validateWildcard(schema *Schema, rest []token.Segment, value any) (any, bool) {
	children, keys, err := wildcardChildrenForValidation(value)
	if err != nil {
		return nil, false
	}

	results := make([]any, len(children))
	for i, child := range children {
		var ok bool
		var v any
		if schema != nil && schema.Items != nil {
			v, ok = validateAt(schema.Items, rest, child)
		}
		if !ok && schema != nil {
			v, ok = validateAt(schema, rest, child)
		}
		if !ok && schema == nil {
			v, ok = child, true
		}
		if !ok {
			return nil, false
		}
		results[i] = v
	}

	if keys != nil {
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k] = results[i]
		}
		return out, true
	}
	return results, true
}

// wildcardChildrenForValidation extracts the children of value and, if
// value is a mapping, their keys (so callers can reassemble a map of the
// same shape after validating each child).
func wildcardChildrenForValidation(value any) (children []any, keys []string, err error) {
	normalized := NormalizeCollection(value)
	switch v := normalized.(type) {
	case []any:
		return v, nil, nil
	case map[string]any:
		ks := sortedStringKeys(v)
		children = make([]any, len(ks))
		for i, k := range ks {
			children[i] = v[k]
		}
		return children, ks, nil
	default:
		return nil, nil, fmt.Errorf("wildcard validation requires a collection")
	}
}

func validateValue(schema *Schema, value any) (any, bool) {
	if schema == nil {
		return value, true
	}

	normalized := NormalizeCollection(value)

	switch schema.Type {
	case TypeObject:
		m, ok := normalized.(map[string]any)
		if !ok {
			return nil, false
		}
		for _, req := range schema.Required {
			if _, exists := m[req]; !exists {
				return nil, false
			}
		}
		out := make(map[string]any, len(m))
		for k, v := range m {
			child, known := schema.Properties[k]
			if !known {
				allowed, explicit := schema.additionalPropertiesAllowed()
				if explicit && !allowed {
					return nil, false
				}
				if !explicit {
					log.Logger.Warn().Str("key", k).Msg("value accepted past the end of its registered schema")
				}
				out[k] = v
				continue
			}
			nv, ok := validateValue(child, v)
			if !ok {
				return nil, false
			}
			out[k] = nv
		}
		return out, true

	case TypeArray:
		seq, ok := normalized.([]any)
		if !ok {
			return nil, false
		}
		out := make([]any, 0, len(seq))
		for _, item := range seq {
			nv, ok := validateValue(schema.Items, item)
			if !ok {
				// Sequence-of-scalars short-circuit: one invalid element
				// fails the whole list.
				return nil, false
			}
			out = append(out, nv)
		}
		return out, true

	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, false
		}
		if len(schema.Enum) > 0 && !enumContains(schema.Enum, s) {
			return nil, false
		}
		return s, true

	case TypeInteger, TypeNumber:
		n, ok := asFloat(value)
		if !ok {
			return nil, false
		}
		if schema.Minimum != nil && n < *schema.Minimum {
			return nil, false
		}
		if schema.Maximum != nil && n > *schema.Maximum {
			return nil, false
		}
		if len(schema.Enum) > 0 && !enumContains(schema.Enum, value) {
			return nil, false
		}
		return value, true

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return nil, false
		}
		return value, true

	case TypeNull:
		if value != nil {
			return nil, false
		}
		return nil, true

	default:
		// No declared type: accept anything, matching an untyped schema
		// fragment that only narrows via enum/required on its children.
		return value, true
	}
}

// NormalizeCollection reshapes a mapping whose keys are all decimal
// integers into a sequence, stable-ordered by the integer key, exactly as
// §4.A requires before validation. It never mutates its argument.
func NormalizeCollection(value any) any {
	m, ok := value.(map[string]any)
	if !ok || len(m) == 0 {
		return value
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil {
			return value
		}
		keys = append(keys, n)
	}
	sort.Ints(keys)
	seq := make([]any, 0, len(keys))
	for _, k := range keys {
		seq = append(seq, m[strconv.Itoa(k)])
	}
	return seq
}

func sortedStringKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
