// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/registry"
	"github.com/ergonlabs/ergon/pkg/schema"
	"github.com/ergonlabs/ergon/pkg/tool"
)

// ToolCaller abstracts remote tool execution.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
}

// ToolSource lists and executes remote tools. *Client satisfies it.
type ToolSource interface {
	ToolCaller
	ListTools(ctx context.Context) ([]mcp.Tool, error)
}

// Contract converts a remote MCP tool definition into an invocable tool
// contract. Argument validation and context-variable stripping come with the
// contract; the handler forwards the call to the server.
func Contract(t mcp.Tool, caller ToolCaller) (*tool.Contract, error) {
	if t.Name == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "mcp tool %s: caller is required", t.Name)
	}

	params, err := inputSchema(t)
	if err != nil {
		return nil, err
	}

	name := t.Name
	handler := func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		result, err := caller.CallTool(ctx, name, args)
		if err != nil {
			return nil, err
		}
		return resultToPayload(result)
	}
	return tool.New(name, t.Description, params, handler)
}

// RegisterTools discovers the source's tools and registers each as a plugin
// tool. A tool that fails to convert is logged and skipped. Returns the
// number of tools registered.
func RegisterTools(ctx context.Context, src ToolSource, reg *registry.Registry, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tools, err := src.ListTools(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, t := range tools {
		contract, err := Contract(t, src)
		if err != nil {
			logger.Warn("skipping mcp tool", "tool", t.Name, "error", err)
			continue
		}
		reg.RegisterPluginTool(contract)
		registered++
	}
	return registered, nil
}

// inputSchema decodes the tool's input schema, preferring the raw form when
// the server supplied one.
func inputSchema(t mcp.Tool) (*schema.Object, error) {
	raw := []byte(t.RawInputSchema)
	if raw == nil {
		encoded, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "mcp tool "+t.Name+": encode input schema", err)
		}
		raw = encoded
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "mcp tool "+t.Name+" has an unreadable input schema", err)
	}
	return schema.FromMap(m)
}

// resultToPayload flattens an MCP call result into a tool result map.
func resultToPayload(result *mcp.CallToolResult) (map[string]interface{}, error) {
	if result == nil {
		return nil, fmt.Errorf("mcp tool returned no result")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", textContent(result.Content))
	}
	if result.StructuredContent != nil {
		if m, ok := result.StructuredContent.(map[string]interface{}); ok {
			return m, nil
		}
		return map[string]interface{}{"result": result.StructuredContent}, nil
	}
	if text := textContent(result.Content); text != "" {
		return map[string]interface{}{"content": text}, nil
	}
	return map[string]interface{}{}, nil
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
