// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/tool"
)

func echoTool(t *testing.T, name string) *tool.Contract {
	t.Helper()
	c, err := tool.New(name, "echoes args", nil, func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return args, nil
	})
	require.NoError(t, err)
	return c
}

func TestNewDefaults(t *testing.T) {
	a, err := New("helper")
	require.NoError(t, err)
	assert.Equal(t, "helper", a.Name())
	assert.Equal(t, "You are a helpful agent.", a.Instructions(nil))
	assert.True(t, a.ParallelToolCalls())
	assert.Nil(t, a.Tools())
}

func TestNewRequiresName(t *testing.T) {
	_, err := New("")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestInstructionsFromContextVars(t *testing.T) {
	a, err := New("greeter", WithInstructionsFunc(func(vars map[string]interface{}) string {
		name, _ := vars["user"].(string)
		if name == "" {
			name = "there"
		}
		return "Greet " + name + "."
	}))
	require.NoError(t, err)

	assert.Equal(t, "Greet there.", a.Instructions(nil))
	assert.Equal(t, "Greet ada.", a.Instructions(map[string]interface{}{"user": "ada"}))
}

func TestFunctionsAndTools(t *testing.T) {
	search := echoTool(t, "search")
	a, err := New("researcher",
		WithModel("gpt-4o"),
		WithFunctions(search),
		WithToolChoice(llm.ToolChoiceRequired),
		WithParallelToolCalls(false),
	)
	require.NoError(t, err)

	require.NoError(t, a.AddFunction(echoTool(t, "fetch")))

	tools := a.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Function.Name)

	assert.Same(t, search, a.Function("search"))
	assert.Nil(t, a.Function("absent"))
	assert.Equal(t, llm.ToolChoiceRequired, a.ToolChoice())
	assert.False(t, a.ParallelToolCalls())
}

func TestParseManifestYAML(t *testing.T) {
	m, err := ParseManifest([]byte(`
kind: agent
name: triage
model: claude-sonnet-4-20250514
instructions: Route each request to the right queue.
tools: [search]
tool_choice: auto
parallel_tool_calls: false
`))
	require.NoError(t, err)
	assert.Equal(t, "triage", m.Name)
	assert.Equal(t, []string{"search"}, m.Tools)
	require.NotNil(t, m.ParallelToolCalls)
	assert.False(t, *m.ParallelToolCalls)
}

func TestParseManifestJSON(t *testing.T) {
	m, err := ParseManifest([]byte(`{"kind":"agent","name":"triage"}`))
	require.NoError(t, err)
	assert.Equal(t, "triage", m.Name)
}

func TestParseManifestRejects(t *testing.T) {
	_, err := ParseManifest([]byte("kind: workflow\nname: x\n"))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	_, err = ParseManifest([]byte("kind: agent\n"))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))
}

func TestManifestBuild(t *testing.T) {
	search := echoTool(t, "search")
	m := &Manifest{Kind: ManifestKind, Name: "triage", Tools: []string{"search"}}

	a, err := m.Build(func(name string) *tool.Contract {
		if name == "search" {
			return search
		}
		return nil
	})
	require.NoError(t, err)
	assert.Same(t, search, a.Function("search"))

	m.Tools = []string{"missing"}
	_, err = m.Build(func(string) *tool.Contract { return nil })
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestManifestBuildInvalidToolChoice(t *testing.T) {
	m := &Manifest{Kind: ManifestKind, Name: "x", ToolChoice: "always"}
	_, err := m.Build(nil)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}
