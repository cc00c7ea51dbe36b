// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package tool defines the callable tool contract: a named handler plus the
// JSON-schema parameters advertised to models.
package tool

import (
	"context"
	"fmt"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/schema"
)

// Handler executes a tool call. args carries the model-supplied arguments;
// when the tool opted in, args also holds the shared conversation state under
// schema.ContextVarsParam.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Contract is an invocable tool: name, description, parameters schema and
// handler. Construct with New or NewTyped.
type Contract struct {
	name         string
	description  string
	parameters   *schema.Object
	handler      Handler
	wantsContext bool
}

// Option configures a Contract.
type Option func(*Contract)

// WithContextVars marks the tool as receiving the shared conversation state
// under the reserved parameter at invocation time.
func WithContextVars() Option {
	return func(c *Contract) { c.wantsContext = true }
}

// New creates a tool contract. The parameters schema may be nil for tools
// without arguments; the reserved context-variables parameter is stripped
// from whatever is passed.
func New(name, description string, params *schema.Object, handler Handler, opts ...Option) (*Contract, error) {
	if name == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "tool name is required")
	}
	if handler == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "tool %s has no handler", name)
	}
	if params == nil {
		params = schema.NewObject()
	} else {
		if _, ok := params.Properties[schema.ContextVarsParam]; ok {
			opts = append(opts, WithContextVars())
		}
		params.StripReserved()
	}

	c := &Contract{
		name:        name,
		description: description,
		parameters:  params,
		handler:     handler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the tool name.
func (c *Contract) Name() string { return c.name }

// Description returns the tool description.
func (c *Contract) Description() string { return c.description }

// Parameters returns the advertised parameters schema.
func (c *Contract) Parameters() *schema.Object { return c.parameters }

// WantsContextVars reports whether Invoke injects shared state.
func (c *Contract) WantsContextVars() bool { return c.wantsContext }

// Definition renders the contract as a provider tool definition.
func (c *Contract) Definition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        c.name,
			Description: c.description,
			Parameters:  c.parameters,
		},
	}
}

// Invoke validates required arguments and runs the handler. contextVars is
// injected under the reserved parameter when the tool asked for it; the
// model-supplied args never override that injection.
func (c *Contract) Invoke(ctx context.Context, args, contextVars map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	for _, name := range c.parameters.Required {
		if _, ok := args[name]; !ok {
			return nil, errors.Newf(errors.CodeInvalidInput, "tool %s: missing required argument %q", c.name, name).
				WithContext("tool", c.name).
				WithContext("argument", name)
		}
	}
	if c.wantsContext {
		if contextVars == nil {
			contextVars = map[string]interface{}{}
		}
		args[schema.ContextVarsParam] = contextVars
	} else {
		delete(args, schema.ContextVarsParam)
	}

	out, err := c.handler(ctx, args)
	if err != nil {
		return nil, errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %s failed", c.name), err).
			WithContext("tool", c.name)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// ErrorResult formats a failure as a result payload, for callers that report
// tool problems back to the model instead of aborting the turn.
func ErrorResult(format string, args ...interface{}) map[string]interface{} {
	return map[string]interface{}{"error": fmt.Sprintf(format, args...)}
}
