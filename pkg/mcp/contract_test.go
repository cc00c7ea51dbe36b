// SPDX-License-Identifier: Apache-2.0
package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/registry"
)

type stubCaller struct {
	lastName string
	lastArgs map[string]interface{}
	result   *mcp.CallToolResult
	err      error
}

func (s *stubCaller) CallTool(_ context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	s.lastName = name
	s.lastArgs = args
	return s.result, s.err
}

type stubSource struct {
	stubCaller
	tools []mcp.Tool
}

func (s *stubSource) ListTools(context.Context) ([]mcp.Tool, error) {
	return s.tools, nil
}

func TestContractForwardsCall(t *testing.T) {
	caller := &stubCaller{
		result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "ok"}},
		},
	}
	c, err := Contract(mcp.Tool{
		Name:        "echo",
		Description: "Echoes input",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"input": map[string]interface{}{"type": "string"}},
			Required:   []string{"input"},
		},
	}, caller)
	require.NoError(t, err)

	out, err := c.Invoke(context.Background(), map[string]interface{}{"input": "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["content"])
	assert.Equal(t, "echo", caller.lastName)
	assert.Equal(t, "hello", caller.lastArgs["input"])
}

func TestContractValidatesRequiredArgs(t *testing.T) {
	c, err := Contract(mcp.Tool{
		Name: "needs-foo",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{"foo": map[string]interface{}{"type": "string"}},
			Required:   []string{"foo"},
		},
	}, &stubCaller{})
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), map[string]interface{}{"bar": "baz"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestContractStructuredContent(t *testing.T) {
	caller := &stubCaller{
		result: &mcp.CallToolResult{
			StructuredContent: map[string]interface{}{"ok": true},
		},
	}
	c, err := Contract(mcp.Tool{Name: "structured"}, caller)
	require.NoError(t, err)

	out, err := c.Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestContractServerErrorBecomesToolFailure(t *testing.T) {
	caller := &stubCaller{
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "upstream exploded"}},
		},
	}
	c, err := Contract(mcp.Tool{Name: "flaky"}, caller)
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeToolFailure))
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestContractRawSchemaPreferred(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	c, err := Contract(mcp.Tool{Name: "search", RawInputSchema: raw}, &stubCaller{
		result: &mcp.CallToolResult{},
	})
	require.NoError(t, err)

	params := c.Parameters()
	require.NotNil(t, params.Properties["q"])
	assert.True(t, params.IsRequired("q"))
}

func TestContractRejectsAnonymousTool(t *testing.T) {
	_, err := Contract(mcp.Tool{}, &stubCaller{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestRegisterToolsRegistersPluginTools(t *testing.T) {
	src := &stubSource{
		stubCaller: stubCaller{result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "hi"}},
		}},
		tools: []mcp.Tool{
			{Name: "fetch", Description: "Fetches a URL"},
			{Name: ""}, // unconvertible, skipped
			{Name: "render"},
		},
	}

	reg := registry.New()
	n, err := RegisterTools(context.Background(), src, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, ok := reg.Tool("fetch")
	require.True(t, ok)
	out, err := c.Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", out["content"])
}
