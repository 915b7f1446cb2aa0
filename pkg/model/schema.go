// Package model implements the Token & Model Registry: a process-global
// table of per-domain JSON-Schema fragments used to compute defaults and
// validate reads and writes against the data model.
//
// The schema fragments are a deliberately small subset of JSON-Schema
// (type, properties, items, required, enum, default, additionalProperties,
// minimum/maximum) — narrow enough that reaching for a general-purpose
// draft-2020-12 validator from the ecosystem would be overkill and a poor
// match (see DESIGN.md); schemas are therefore plain Go structs decoded
// with encoding/json (compiled-in) or gopkg.in/yaml.v3 (loaded from disk).
package model

import "encoding/json"

// Type enumerates the JSON-Schema "type" keyword values this subset
// understands.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
)

// AdditionalProperties models the tri-state additionalProperties keyword:
// unset (nil), true, or false.
type AdditionalProperties struct {
	set   bool
	value bool
}

// NewAdditionalProperties returns an explicit true/false setting.
func NewAdditionalProperties(v bool) AdditionalProperties {
	return AdditionalProperties{set: true, value: v}
}

// IsSet reports whether additionalProperties was explicitly configured.
func (a AdditionalProperties) IsSet() bool { return a.set }

// Allowed reports the effective value, defaulting to true when unset.
func (a AdditionalProperties) Allowed() bool {
	if !a.set {
		return true
	}
	return a.value
}

// UnmarshalJSON accepts a bare JSON boolean.
func (a *AdditionalProperties) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = AdditionalProperties{set: true, value: v}
	return nil
}

// MarshalJSON round-trips the explicit value, or omits the field entirely
// via Schema's own marshaling (callers typically leave this unset).
func (a AdditionalProperties) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.value)
}

// Schema is one JSON-Schema fragment, as registered under a domain name or
// nested beneath properties/items.
type Schema struct {
	Type                 Type                  `json:"type,omitempty" yaml:"type,omitempty"`
	Properties           map[string]*Schema    `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items                *Schema               `json:"items,omitempty" yaml:"items,omitempty"`
	Required             []string              `json:"required,omitempty" yaml:"required,omitempty"`
	Enum                 []any                 `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default              any                   `json:"default,omitempty" yaml:"default,omitempty"`
	AdditionalProperties *AdditionalProperties `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
	Minimum              *float64              `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum              *float64              `json:"maximum,omitempty" yaml:"maximum,omitempty"`
}

// additionalPropertiesAllowed resolves the tri-state rule from §4.A: unset
// defaults to "allowed" for object schemas (with a validation warning),
// explicit false rejects traversal past the schema, explicit true accepts.
func (s *Schema) additionalPropertiesAllowed() (allowed bool, explicit bool) {
	if s.AdditionalProperties == nil {
		return true, false
	}
	return s.AdditionalProperties.Allowed(), true
}
