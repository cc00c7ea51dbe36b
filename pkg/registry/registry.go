// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package registry is the namespaced store mapping (kind, name) to tools,
// agents and workflow configurations.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/tool"
	"github.com/ergonlabs/ergon/pkg/workflow"
)

// Kind namespaces registry entries.
type Kind string

const (
	KindTool        Kind = "tool"
	KindAgent       Kind = "agent"
	KindWorkflow    Kind = "workflow"
	KindPluginTool  Kind = "plugin_tool"
	KindPluginAgent Kind = "plugin_agent"
)

// Registry stores named artifacts by kind. Registration is last-write-wins;
// overwrites are logged at WARN, never rejected.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]interface{}
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger injects the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: map[Kind]map[string]interface{}{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores an artifact under (kind, name), replacing any previous
// entry for that key.
func (r *Registry) Register(kind Kind, name string, artifact interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.entries[kind]
	if bucket == nil {
		bucket = map[string]interface{}{}
		r.entries[kind] = bucket
	}
	if _, exists := bucket[name]; exists {
		r.logger.Warn("registry entry overwritten", "kind", string(kind), "name", name)
	}
	bucket[name] = artifact
}

// Get returns the artifact under (kind, name).
func (r *Registry) Get(kind Kind, name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifact, ok := r.entries[kind][name]
	return artifact, ok
}

// List returns the sorted names registered under kind.
func (r *Registry) List(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries[kind]))
	for name := range r.entries[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTool stores a tool contract under its own name.
func (r *Registry) RegisterTool(c *tool.Contract) {
	r.Register(KindTool, c.Name(), c)
}

// RegisterPluginTool stores an externally-sourced tool contract.
func (r *Registry) RegisterPluginTool(c *tool.Contract) {
	r.Register(KindPluginTool, c.Name(), c)
}

// Tool resolves a tool contract by name, preferring first-party tools over
// plugin tools.
func (r *Registry) Tool(name string) (*tool.Contract, bool) {
	for _, kind := range []Kind{KindTool, KindPluginTool} {
		if artifact, ok := r.Get(kind, name); ok {
			if c, ok := artifact.(*tool.Contract); ok {
				return c, true
			}
		}
	}
	return nil, false
}

// RegisterAgent stores an agent under its own name.
func (r *Registry) RegisterAgent(a *agent.Agent) {
	r.Register(KindAgent, a.Name(), a)
}

// Agent resolves an agent by name.
func (r *Registry) Agent(name string) (*agent.Agent, bool) {
	artifact, ok := r.Get(KindAgent, name)
	if !ok {
		return nil, false
	}
	a, ok := artifact.(*agent.Agent)
	return a, ok
}

// RegisterWorkflow stores a workflow configuration under its own name.
func (r *Registry) RegisterWorkflow(cfg *workflow.Config) {
	r.Register(KindWorkflow, cfg.Name, cfg)
}

// Workflow resolves a workflow configuration by name.
func (r *Registry) Workflow(name string) (*workflow.Config, bool) {
	artifact, ok := r.Get(KindWorkflow, name)
	if !ok {
		return nil, false
	}
	cfg, ok := artifact.(*workflow.Config)
	return cfg, ok
}

// ToolResolver adapts the registry to the agent manifest builder.
func (r *Registry) ToolResolver() agent.ToolResolver {
	return func(name string) *tool.Contract {
		c, ok := r.Tool(name)
		if !ok {
			return nil
		}
		return c
	}
}
