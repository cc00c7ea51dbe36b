// SPDX-License-Identifier: Apache-2.0
package dispatch

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/registry"
	"github.com/ergonlabs/ergon/pkg/resilience"
	"github.com/ergonlabs/ergon/pkg/schema"
	"github.com/ergonlabs/ergon/pkg/tool"
)

func echoTool(t *testing.T, name string) *tool.Contract {
	t.Helper()
	params := schema.NewObject().WithProperty("query", &schema.Property{Type: "string"}, true)
	c, err := tool.New(name, "echoes its query", params, func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"echo": args["query"]}, nil
	})
	require.NoError(t, err)
	return c
}

func testAgent(t *testing.T, model string, opts ...agent.Option) *agent.Agent {
	t.Helper()
	opts = append([]agent.Option{agent.WithModel(model), agent.WithInstructions("You route requests.")}, opts...)
	a, err := agent.New("router", opts...)
	require.NoError(t, err)
	return a
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2.0}
}

func TestCapabilityResolution(t *testing.T) {
	table := NewCapabilityTable()

	caps := table.Resolve("gpt-4o-mini")
	assert.True(t, caps.FunctionCalling)
	assert.False(t, caps.NoSenderField)

	caps = table.Resolve("claude-sonnet-4")
	assert.True(t, caps.FunctionCalling)
	assert.True(t, caps.NoSenderField)
	assert.True(t, caps.InterleaveUserTurns)

	caps = table.Resolve("gemini-2.0-flash")
	assert.True(t, caps.NonEmptyObjectProperties)

	caps = table.Resolve("llama3.1")
	assert.False(t, caps.FunctionCalling)
	assert.True(t, caps.NoSenderField)

	assert.Equal(t, Capabilities{}, table.Resolve("some-unknown-model"))
}

func TestCapabilityOverrideWins(t *testing.T) {
	table, err := TableFromOverrides(map[string][]string{
		"llama3.1": {FlagFunctionCalling},
	})
	require.NoError(t, err)

	assert.True(t, table.Resolve("llama3.1:70b").FunctionCalling)
	assert.False(t, table.Resolve("llama2").FunctionCalling, "override only matches its own substring")

	_, err = TableFromOverrides(map[string][]string{"x": {"levitation"}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestDispatchNativeToolRoundTrip(t *testing.T) {
	provider := &llm.MockProvider{
		ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      "search",
				Arguments: `{"query": "weather"}`,
			},
		}},
	}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	a := testAgent(t, "gpt-4o", agent.WithFunctions(echoTool(t, "search")))
	resp, err := d.Dispatch(context.Background(), Request{
		Agent:   a,
		History: []llm.Message{{Role: llm.RoleUser, Content: "what's the weather?"}},
	})
	require.NoError(t, err)

	assert.Equal(t, ProtocolNative, resp.Protocol)
	assert.Equal(t, 1, resp.Attempts)
	require.Len(t, resp.ToolResults, 1)
	assert.Equal(t, "search", resp.ToolResults[0].Name)
	assert.Equal(t, "weather", resp.ToolResults[0].Result["echo"])
	assert.Equal(t, "router", resp.Message.Sender)

	// Native mode advertises the tool definitions.
	require.Len(t, provider.Requests, 1)
	require.Len(t, provider.Requests[0].Tools, 1)
	assert.Equal(t, "search", provider.Requests[0].Tools[0].Function.Name)
}

func TestDispatchTextualExtractsFencedCalls(t *testing.T) {
	provider := &llm.MockProvider{
		Response: "Working on it.\n```tool\n{\"name\": \"search\", \"arguments\": {\"query\": \"tides\"}}\n```",
	}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	a := testAgent(t, "llama3.1",
		agent.WithFunctions(echoTool(t, "search")),
		agent.WithToolChoice(llm.ToolChoiceRequired))
	resp, err := d.Dispatch(context.Background(), Request{
		Agent:   a,
		History: []llm.Message{{Role: llm.RoleUser, Content: "tide tables please"}},
	})
	require.NoError(t, err)

	assert.Equal(t, ProtocolTextual, resp.Protocol)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "search", resp.Message.ToolCalls[0].Function.Name)
	assert.Equal(t, "Working on it.", resp.Message.Content)
	require.Len(t, resp.ToolResults, 1)
	assert.Equal(t, "tides", resp.ToolResults[0].Result["echo"])

	// Textual mode never sends structured tool definitions; it teaches the
	// protocol through the system message instead.
	require.Len(t, provider.Requests, 1)
	req := provider.Requests[0]
	assert.Empty(t, req.Tools)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "```tool")
	assert.Contains(t, req.Messages[0].Content, "Tool: search")
}

func TestDispatchTextualRequiresToolChoice(t *testing.T) {
	d, err := New(&llm.MockProvider{}, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	a := testAgent(t, "llama3.1", agent.WithFunctions(echoTool(t, "search")))
	_, err = d.Dispatch(context.Background(), Request{Agent: a})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestDispatchForcedNativeOnIncapableModel(t *testing.T) {
	d, err := New(&llm.MockProvider{}, WithProtocol(ProtocolNative), WithRetry(fastRetry(1)))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "llama3.1")})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	provider := llm.NewScriptedMockProvider("recovered")
	provider.AddError(stderrors.New("connection reset by peer"))
	provider.AddError(stderrors.New("status 529: overloaded"))
	provider.AddError(nil)

	d, err := New(provider, WithRetry(fastRetry(3)))
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, 3, provider.CallCount)
	assert.Equal(t, "recovered", resp.Message.Content)
}

func TestDispatchDoesNotRetryPermanentFailures(t *testing.T) {
	provider := llm.NewScriptedMockProvider("never reached")
	provider.AddError(stderrors.New("invalid api key"))

	d, err := New(provider, WithRetry(fastRetry(3)))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.Error(t, err)
	assert.Equal(t, 1, provider.CallCount)
	assert.True(t, errors.IsCode(err, errors.CodeProvider))
}

func TestDispatchExhaustedRetriesSurfaceAttempts(t *testing.T) {
	provider := &llm.FailingMockProvider{Err: stderrors.New("rate limit exceeded")}

	d, err := New(provider, WithRetry(fastRetry(3)))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.Error(t, err)
	var typed *errors.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, 3, typed.Context["attempts"])
}

func TestDispatchUnknownToolBecomesErrorResult(t *testing.T) {
	provider := &llm.MockProvider{
		ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "launch_rockets", Arguments: "{}"},
		}},
	}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o", agent.WithFunctions(echoTool(t, "search")))})
	require.NoError(t, err, "unknown tools are reported, not raised")
	require.Len(t, resp.ToolResults, 1)
	assert.Contains(t, resp.ToolResults[0].Result["error"], "not found")
}

func TestDispatchRegistryFallbackForPluginTools(t *testing.T) {
	reg := registry.New()
	reg.RegisterPluginTool(echoTool(t, "remote_search"))

	provider := &llm.MockProvider{
		ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "remote_search", Arguments: `{"query": "docs"}`},
		}},
	}
	d, err := New(provider, WithRegistry(reg), WithRetry(fastRetry(1)))
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.NoError(t, err)
	require.Len(t, resp.ToolResults, 1)
	assert.Equal(t, "docs", resp.ToolResults[0].Result["echo"])
}

func TestDispatchToolFailurePropagates(t *testing.T) {
	boom, err := tool.New("boom", "always fails", nil, func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, stderrors.New("disk full")
	})
	require.NoError(t, err)

	provider := &llm.MockProvider{
		ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "boom", Arguments: "{}"},
		}},
	}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o", agent.WithFunctions(boom))})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeToolFailure))
}

func TestDispatchSenderStripAndInterleave(t *testing.T) {
	provider := &llm.MockProvider{Response: "done"}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "start"},
		{Role: llm.RoleAssistant, Content: "step one", Sender: "router"},
		{Role: llm.RoleAssistant, Content: "step two", Sender: "router"},
	}
	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "claude-sonnet-4"), History: history})
	require.NoError(t, err)

	require.Len(t, provider.Requests, 1)
	msgs := provider.Requests[0].Messages
	for _, msg := range msgs {
		assert.Empty(t, msg.Sender)
	}
	// A synthetic user turn separates the consecutive assistant turns.
	var sawContinue bool
	for _, msg := range msgs {
		if msg.Role == llm.RoleUser && msg.Content == "Please continue." {
			sawContinue = true
		}
	}
	assert.True(t, sawContinue)
}

func TestDispatchPadsEmptySchemasForStrictProviders(t *testing.T) {
	noArgs, err := tool.New("ping", "no arguments", nil, func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"pong": true}, nil
	})
	require.NoError(t, err)

	provider := &llm.MockProvider{Response: "ok"}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	a := testAgent(t, "gemini-2.0-flash", agent.WithFunctions(noArgs))
	_, err = d.Dispatch(context.Background(), Request{Agent: a})
	require.NoError(t, err)

	require.Len(t, provider.Requests, 1)
	params, ok := provider.Requests[0].Tools[0].Function.Parameters.(*schema.Object)
	require.True(t, ok)
	assert.NotEmpty(t, params.Properties, "empty object schemas get a placeholder property")
	assert.Empty(t, noArgs.Parameters().Properties, "the agent's contract is left untouched")
}

func TestDispatchModelResolutionOrder(t *testing.T) {
	provider := &llm.MockProvider{Response: "ok"}
	d, err := New(provider, WithDefaultModel("gpt-4o-mini"), WithRetry(fastRetry(1)))
	require.NoError(t, err)

	// Request override beats the agent binding beats the default.
	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o"), Model: "gpt-4.1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", provider.Requests[0].Model)

	_, err = d.Dispatch(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", provider.Requests[1].Model)

	unbound, err := agent.New("drifter")
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), Request{Agent: unbound})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", provider.Requests[2].Model)

	bare, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)
	_, err = bare.Dispatch(context.Background(), Request{Agent: unbound})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestDispatchInstructionsSeeContextVars(t *testing.T) {
	provider := &llm.MockProvider{Response: "ok"}
	d, err := New(provider, WithRetry(fastRetry(1)))
	require.NoError(t, err)

	a, err := agent.New("concierge",
		agent.WithModel("gpt-4o"),
		agent.WithInstructionsFunc(func(vars map[string]interface{}) string {
			name, _ := vars["customer"].(string)
			if name == "" {
				name = "guest"
			}
			return "You are assisting " + name + "."
		}))
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{
		Agent:       a,
		ContextVars: map[string]interface{}{"customer": "Ada"},
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(provider.Requests[0].Messages[0].Content, "Ada"))
}

func TestDispatchStreamRequiresStreamingProvider(t *testing.T) {
	d, err := New(&llm.MockProvider{})
	require.NoError(t, err)
	_, err = d.DispatchStream(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

type streamingMock struct {
	llm.MockProvider
	chunks []llm.StreamChunk
}

func (s *streamingMock) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	s.Requests = append(s.Requests, req)
	out := make(chan llm.StreamChunk, len(s.chunks))
	for _, chunk := range s.chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

func TestDispatchStreamPassesChunksThrough(t *testing.T) {
	provider := &streamingMock{chunks: []llm.StreamChunk{
		{Content: "hel"},
		{Content: "lo"},
		{Done: true, Usage: &llm.Usage{TotalTokens: 5}},
	}}
	d, err := New(provider)
	require.NoError(t, err)

	ch, err := d.DispatchStream(context.Background(), Request{Agent: testAgent(t, "gpt-4o")})
	require.NoError(t, err)

	var content strings.Builder
	var done bool
	for chunk := range ch {
		content.WriteString(chunk.Content)
		if chunk.Done {
			done = true
		}
	}
	assert.Equal(t, "hello", content.String())
	assert.True(t, done)
}
