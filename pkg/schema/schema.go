// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package schema builds JSON-schema parameter objects for tool definitions,
// either by reflecting a typed arguments struct or by hand.
package schema

import (
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// ContextVarsParam is the reserved parameter name through which shared
// conversation state is injected into tool handlers. It never appears in the
// schema advertised to a model.
const ContextVarsParam = "context_variables"

// Property describes a single schema property. Nested objects and arrays are
// expressed through Properties and Items.
type Property struct {
	Type        string               `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Enum        []interface{}        `json:"enum,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Default     interface{}          `json:"default,omitempty"`
}

// Object is a top-level "type": "object" parameters schema.
type Object struct {
	Type       string               `json:"type"`
	Properties map[string]*Property `json:"properties"`
	Required   []string             `json:"required,omitempty"`
}

// NewObject returns an empty object schema.
func NewObject() *Object {
	return &Object{Type: "object", Properties: map[string]*Property{}}
}

// WithProperty adds a property, marking it required when asked.
// Returns the object for chaining.
func (o *Object) WithProperty(name string, p *Property, required bool) *Object {
	if o.Properties == nil {
		o.Properties = map[string]*Property{}
	}
	o.Properties[name] = p
	if required && !contains(o.Required, name) {
		o.Required = append(o.Required, name)
		sort.Strings(o.Required)
	}
	return o
}

// StripReserved removes the context-variables parameter from the schema so it
// is never advertised to a model. Returns the object for chaining.
func (o *Object) StripReserved() *Object {
	if o.Properties != nil {
		delete(o.Properties, ContextVarsParam)
	}
	kept := o.Required[:0]
	for _, name := range o.Required {
		if name != ContextVarsParam {
			kept = append(kept, name)
		}
	}
	o.Required = kept
	if len(o.Required) == 0 {
		o.Required = nil
	}
	return o
}

// IsRequired reports whether name is listed in the required set.
func (o *Object) IsRequired(name string) bool {
	return contains(o.Required, name)
}

// FromStruct reflects an arguments struct into an object schema. Field names
// come from json tags; jsonschema tags supply descriptions, enums and the
// required marking. The reserved context-variables parameter is stripped.
func FromStruct[T any]() (*Object, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
	}

	var zero T
	reflected := reflector.Reflect(&zero)

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "marshal reflected schema", err)
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.New(errors.CodeInternal, "decode reflected schema", err)
	}
	if obj.Type == "" {
		obj.Type = "object"
	}
	if obj.Properties == nil {
		obj.Properties = map[string]*Property{}
	}
	sort.Strings(obj.Required)
	return obj.StripReserved(), nil
}

// FromMap converts a generic JSON-schema map (for example one delivered by a
// remote tool server) into an Object, stripping the reserved parameter.
func FromMap(m map[string]interface{}) (*Object, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "marshal schema map", err)
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "schema map is not an object schema", err)
	}
	if obj.Type == "" {
		obj.Type = "object"
	}
	if obj.Properties == nil {
		obj.Properties = map[string]*Property{}
	}
	return obj.StripReserved(), nil
}

// placeholderProp is injected into empty object schemas for providers that
// reject objects with no properties.
const placeholderProp = "placeholder"

// EnsureNonEmpty recursively injects a placeholder string property into every
// object schema that has none. The input is mutated and returned.
func EnsureNonEmpty(o *Object) *Object {
	if o == nil {
		return nil
	}
	if len(o.Properties) == 0 {
		o.Properties = map[string]*Property{
			placeholderProp: {Type: "string", Description: "Unused. Ignore this parameter."},
		}
	}
	for _, p := range o.Properties {
		ensureNonEmptyProp(p)
	}
	return o
}

func ensureNonEmptyProp(p *Property) {
	if p == nil {
		return
	}
	if p.Type == "object" && len(p.Properties) == 0 {
		p.Properties = map[string]*Property{
			placeholderProp: {Type: "string", Description: "Unused. Ignore this parameter."},
		}
	}
	for _, nested := range p.Properties {
		ensureNonEmptyProp(nested)
	}
	ensureNonEmptyProp(p.Items)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
