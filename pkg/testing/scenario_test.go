// SPDX-License-Identifier: Apache-2.0
package testing

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/dispatch"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/resilience"
	"github.com/ergonlabs/ergon/pkg/schema"
	"github.com/ergonlabs/ergon/pkg/tool"
)

func scenarioAgent(t *testing.T, opts ...agent.Option) *agent.Agent {
	t.Helper()
	opts = append([]agent.Option{agent.WithModel("gpt-4o"), agent.WithInstructions("Answer briefly.")}, opts...)
	a, err := agent.New("answering-machine", opts...)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}
	return a
}

func scenarioDispatcher(t *testing.T, provider *ScenarioProvider) *dispatch.Dispatcher {
	t.Helper()
	d, err := dispatch.New(provider, dispatch.WithRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
	}))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return d
}

func TestScenarioPlainAnswer(t *testing.T) {
	provider := NewScenarioProvider().AddResponse("Hello there!")
	d := scenarioDispatcher(t, provider)

	scenario := NewScenario("greeting").
		WithInput("Hello").
		ExpectNoError().
		ExpectOutput(Contains("Hello")).
		ExpectNoToolCalls().
		ExpectAttempts(1)

	result := scenario.Run(t, d, scenarioAgent(t))
	result.Assert(t, scenario)

	NewAssertions(t).
		AssertRequest(provider.LastRequest()).
		HasModel("gpt-4o").
		HasSystemMessage("Answer briefly.").
		HasUserMessage("Hello")
}

func TestScenarioToolCall(t *testing.T) {
	params := schema.NewObject().WithProperty("city", &schema.Property{Type: "string"}, true)
	weather, err := tool.New("weather", "Looks up weather", params, func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"forecast": "sunny"}, nil
	})
	RequireNoError(t, err, "weather tool")

	provider := NewScenarioProvider().AddToolCallResponse(
		NewToolCall("weather").WithID("call_1").WithArg("city", "Gijón").Build(),
	)
	d := scenarioDispatcher(t, provider)
	a := scenarioAgent(t, agent.WithFunctions(weather))

	scenario := NewScenario("weather lookup").
		WithInput("weather in Gijón?").
		ExpectNoError().
		ExpectToolCall("weather")

	result := scenario.Run(t, d, a)
	result.Assert(t, scenario)

	assertions := NewAssertions(t)
	assertions.AssertDispatch(result.Response).
		HasToolCallNamed("weather").
		HasToolResult("weather").
		UsedProtocol(dispatch.ProtocolNative)

	args := AssertToolCallArgs(t, result.Response.Message.ToolCalls[0], "weather")
	assertions.AssertEqual("Gijón", args["city"], "tool argument")
}

func TestScenarioRetriesThroughDispatcher(t *testing.T) {
	provider := NewScenarioProvider().
		AddErrorResponse(stderrors.New("connection reset by peer")).
		AddResponse("recovered")
	d := scenarioDispatcher(t, provider)

	scenario := NewScenario("transient recovery").
		WithInput("try again").
		ExpectNoError().
		ExpectOutput(Equals("recovered")).
		ExpectAttempts(2)

	scenario.Run(t, d, scenarioAgent(t)).Assert(t, scenario)

	if provider.CallCount() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", provider.CallCount())
	}
}

func TestScenarioErrorExpectation(t *testing.T) {
	provider := NewScenarioProvider().WithDefaultError(stderrors.New("invalid api key"))
	d := scenarioDispatcher(t, provider)

	scenario := NewScenario("hard failure").
		WithInput("anything").
		ExpectError(Contains("completion failed"))

	scenario.Run(t, d, scenarioAgent(t)).Assert(t, scenario)
}

func TestScenarioConditionalResponses(t *testing.T) {
	provider := NewScenarioProvider().
		AddScriptedResponse(ScriptedResponse{
			Content: "bonjour",
			Condition: func(req llm.ChatRequest) bool {
				return containsUserText(req, "french")
			},
		}).
		AddScriptedResponse(ScriptedResponse{
			Content: "hola",
			Condition: func(req llm.ChatRequest) bool {
				return containsUserText(req, "spanish")
			},
		})
	d := scenarioDispatcher(t, provider)

	scenario := NewScenario("conditional answer").
		WithInput("greet me in spanish").
		ExpectNoError().
		ExpectOutput(Equals("hola"))

	scenario.Run(t, d, scenarioAgent(t)).Assert(t, scenario)
}

func containsUserText(req llm.ChatRequest, substr string) bool {
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleUser && strings.Contains(msg.Content, substr) {
			return true
		}
	}
	return false
}
