// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the declarative Agent: a model binding, instructions,
// and the tool contracts the model may call.
package agent

import (
	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/tool"
)

// InstructionsFunc renders system instructions from the shared conversation
// state, letting prompts reference values accumulated during the run.
type InstructionsFunc func(contextVars map[string]interface{}) string

// Agent is a declarative agent definition. It holds no conversation state;
// the dispatcher threads state through each call.
type Agent struct {
	name              string
	model             string
	instructions      InstructionsFunc
	examples          []llm.Message
	functions         []*tool.Contract
	toolChoice        string
	parallelToolCalls bool
}

// Option configures an Agent.
type Option func(*Agent) error

// New creates an Agent. Name is required; the model may be left empty and
// supplied by the dispatcher's configuration at call time.
func New(name string, opts ...Option) (*Agent, error) {
	a := &Agent{
		name:              name,
		instructions:      func(map[string]interface{}) string { return "You are a helpful agent." },
		parallelToolCalls: true,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.name == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "agent name is required")
	}
	return a, nil
}

// WithModel binds the agent to a model identifier.
func WithModel(model string) Option {
	return func(a *Agent) error {
		a.model = model
		return nil
	}
}

// WithInstructions sets static system instructions.
func WithInstructions(text string) Option {
	return func(a *Agent) error {
		a.instructions = func(map[string]interface{}) string { return text }
		return nil
	}
}

// WithInstructionsFunc sets instructions rendered from conversation state.
func WithInstructionsFunc(fn InstructionsFunc) Option {
	return func(a *Agent) error {
		if fn == nil {
			return errors.Newf(errors.CodeInvalidInput, "instructions func must not be nil")
		}
		a.instructions = fn
		return nil
	}
}

// WithExamples prepends few-shot example messages after the instructions.
func WithExamples(examples ...llm.Message) Option {
	return func(a *Agent) error {
		a.examples = append(a.examples, examples...)
		return nil
	}
}

// WithFunctions registers tool contracts the model may call.
func WithFunctions(fns ...*tool.Contract) Option {
	return func(a *Agent) error {
		for _, fn := range fns {
			if fn == nil {
				return errors.Newf(errors.CodeInvalidInput, "agent %s: nil tool contract", a.name)
			}
			a.functions = append(a.functions, fn)
		}
		return nil
	}
}

// WithToolChoice sets the tool-choice mode passed to the provider
// (llm.ToolChoiceAuto or llm.ToolChoiceRequired).
func WithToolChoice(choice string) Option {
	return func(a *Agent) error {
		a.toolChoice = choice
		return nil
	}
}

// WithParallelToolCalls controls whether the provider may emit several tool
// calls in one turn. Defaults to true.
func WithParallelToolCalls(enabled bool) Option {
	return func(a *Agent) error {
		a.parallelToolCalls = enabled
		return nil
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Model returns the bound model identifier, or "" when unbound.
func (a *Agent) Model() string { return a.model }

// Instructions renders the system instructions for the given state.
func (a *Agent) Instructions(contextVars map[string]interface{}) string {
	if contextVars == nil {
		contextVars = map[string]interface{}{}
	}
	return a.instructions(contextVars)
}

// Examples returns the few-shot example messages.
func (a *Agent) Examples() []llm.Message {
	return append([]llm.Message(nil), a.examples...)
}

// Functions returns the agent's tool contracts.
func (a *Agent) Functions() []*tool.Contract {
	return append([]*tool.Contract(nil), a.functions...)
}

// AddFunction appends a tool contract after construction.
func (a *Agent) AddFunction(fn *tool.Contract) error {
	if fn == nil {
		return errors.Newf(errors.CodeInvalidInput, "agent %s: nil tool contract", a.name)
	}
	a.functions = append(a.functions, fn)
	return nil
}

// Function returns the contract with the given name, or nil.
func (a *Agent) Function(name string) *tool.Contract {
	for _, fn := range a.functions {
		if fn.Name() == name {
			return fn
		}
	}
	return nil
}

// Tools renders all function contracts as provider tool definitions.
func (a *Agent) Tools() []llm.Tool {
	if len(a.functions) == 0 {
		return nil
	}
	tools := make([]llm.Tool, 0, len(a.functions))
	for _, fn := range a.functions {
		tools = append(tools, fn.Definition())
	}
	return tools
}

// ToolChoice returns the configured tool-choice mode, or "" for provider
// default behavior.
func (a *Agent) ToolChoice() string { return a.toolChoice }

// ParallelToolCalls reports whether multiple tool calls per turn are allowed.
func (a *Agent) ParallelToolCalls() bool { return a.parallelToolCalls }
