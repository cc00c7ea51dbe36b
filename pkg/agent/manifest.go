// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/tool"
)

// Manifest is the declarative on-disk form of an agent. Tools are referenced
// by name and resolved against registered contracts at build time.
type Manifest struct {
	Kind              string   `yaml:"kind" json:"kind"`
	Name              string   `yaml:"name" json:"name"`
	Model             string   `yaml:"model,omitempty" json:"model,omitempty"`
	Instructions      string   `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Tools             []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	ToolChoice        string   `yaml:"tool_choice,omitempty" json:"tool_choice,omitempty"`
	ParallelToolCalls *bool    `yaml:"parallel_tool_calls,omitempty" json:"parallel_tool_calls,omitempty"`
}

// ManifestKind is the kind discriminator for agent manifests.
const ManifestKind = "agent"

// ParseManifest decodes a YAML or JSON agent manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "parse agent manifest", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "parse agent manifest", err)
		}
	}
	if m.Kind != "" && m.Kind != ManifestKind {
		return nil, errors.Newf(errors.CodeInvalidInput, "manifest kind %q is not %q", m.Kind, ManifestKind)
	}
	if m.Name == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "agent manifest has no name")
	}
	return &m, nil
}

// ToolResolver maps a tool name to a registered contract, or nil when the
// name is unknown.
type ToolResolver func(name string) *tool.Contract

// Build turns the manifest into an Agent, resolving tool references.
// An unresolvable tool name is a configuration error.
func (m *Manifest) Build(resolve ToolResolver) (*Agent, error) {
	opts := []Option{WithModel(m.Model)}
	if m.Instructions != "" {
		opts = append(opts, WithInstructions(m.Instructions))
	}
	if m.ToolChoice != "" {
		switch m.ToolChoice {
		case llm.ToolChoiceAuto, llm.ToolChoiceRequired:
		default:
			return nil, errors.Newf(errors.CodeConfiguration, "agent %s: invalid tool_choice %q", m.Name, m.ToolChoice)
		}
		opts = append(opts, WithToolChoice(m.ToolChoice))
	}
	if m.ParallelToolCalls != nil {
		opts = append(opts, WithParallelToolCalls(*m.ParallelToolCalls))
	}
	for _, name := range m.Tools {
		if resolve == nil {
			return nil, errors.Newf(errors.CodeConfiguration, "agent %s references tool %q but no resolver is available", m.Name, name)
		}
		contract := resolve(name)
		if contract == nil {
			return nil, errors.Newf(errors.CodeConfiguration, "agent %s references unknown tool %q", m.Name, name)
		}
		opts = append(opts, WithFunctions(contract))
	}
	return New(m.Name, opts...)
}
