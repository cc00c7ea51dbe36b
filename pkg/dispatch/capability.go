// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package dispatch turns an Agent plus conversation history into a provider
// request, handles protocol mode and provider quirks, retries transient
// failures and executes the returned tool calls.
package dispatch

import (
	"sort"
	"strings"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// Capabilities describes what a model supports, looked up once per dispatch
// instead of substring checks scattered through the call path.
type Capabilities struct {
	// FunctionCalling: the model consumes structured tool definitions and
	// emits structured tool_calls.
	FunctionCalling bool

	// NoSenderField: the provider rejects the sender annotation on messages.
	NoSenderField bool

	// NonEmptyObjectProperties: the provider's schema validation rejects
	// object parameters with an empty properties map.
	NonEmptyObjectProperties bool

	// InterleaveUserTurns: the provider forbids consecutive assistant turns.
	InterleaveUserTurns bool
}

// Capability flag names accepted in configuration overrides.
const (
	FlagFunctionCalling          = "function_calling"
	FlagNoSender                 = "no_sender"
	FlagNonEmptyObjectProperties = "non_empty_object_properties"
	FlagInterleaveUserTurns      = "interleave_user_turns"
)

// ParseFlags builds a capability set from flag names.
func ParseFlags(flags []string) (Capabilities, error) {
	var caps Capabilities
	for _, flag := range flags {
		switch flag {
		case FlagFunctionCalling:
			caps.FunctionCalling = true
		case FlagNoSender:
			caps.NoSenderField = true
		case FlagNonEmptyObjectProperties:
			caps.NonEmptyObjectProperties = true
		case FlagInterleaveUserTurns:
			caps.InterleaveUserTurns = true
		default:
			return Capabilities{}, errors.Newf(errors.CodeConfiguration, "unknown capability flag %q", flag)
		}
	}
	return caps, nil
}

// TableFromOverrides builds the capability table with configuration
// overrides applied: a map from model substring to the capability flag names
// that model supports.
func TableFromOverrides(overrides map[string][]string) (*CapabilityTable, error) {
	table := NewCapabilityTable()
	for model, flags := range overrides {
		caps, err := ParseFlags(flags)
		if err != nil {
			return nil, errors.New(errors.CodeConfiguration, "capability override for "+model, err)
		}
		table.Override(model, caps)
	}
	return table, nil
}

// CapabilityTable resolves a model identifier to its capabilities by
// substring match. Overrides take precedence over the built-in table; within
// each table the longest matching key wins.
type CapabilityTable struct {
	builtin   map[string]Capabilities
	overrides map[string]Capabilities
}

// NewCapabilityTable returns the built-in table covering the model families
// Ergon ships adapters for.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{
		builtin: map[string]Capabilities{
			"gpt":       {FunctionCalling: true},
			"o1":        {FunctionCalling: true},
			"claude":    {FunctionCalling: true, NoSenderField: true, InterleaveUserTurns: true},
			"anthropic": {FunctionCalling: true, NoSenderField: true, InterleaveUserTurns: true},
			"gemini":    {FunctionCalling: true, NoSenderField: true, NonEmptyObjectProperties: true},
			"llama":     {NoSenderField: true},
			"mistral":   {NoSenderField: true},
		},
		overrides: map[string]Capabilities{},
	}
}

// Override binds a capability set to a model substring, shadowing the
// built-in table for models that match it.
func (t *CapabilityTable) Override(modelSubstring string, caps Capabilities) {
	t.overrides[strings.ToLower(modelSubstring)] = caps
}

// Resolve returns the capabilities of the given model. Unknown models get
// the zero set, which routes them through the textual protocol.
func (t *CapabilityTable) Resolve(model string) Capabilities {
	needle := strings.ToLower(model)
	if caps, ok := matchLongest(t.overrides, needle); ok {
		return caps
	}
	if caps, ok := matchLongest(t.builtin, needle); ok {
		return caps
	}
	return Capabilities{}
}

func matchLongest(table map[string]Capabilities, model string) (Capabilities, bool) {
	keys := make([]string, 0, len(table))
	for key := range table {
		if strings.Contains(model, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return Capabilities{}, false
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return table[keys[0]], true
}
