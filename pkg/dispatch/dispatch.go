// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/fncall"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/registry"
	"github.com/ergonlabs/ergon/pkg/resilience"
	"github.com/ergonlabs/ergon/pkg/schema"
	"github.com/ergonlabs/ergon/pkg/telemetry"
	"github.com/ergonlabs/ergon/pkg/tool"
)

// Protocol modes for tool calling.
const (
	ProtocolAuto    = "auto"
	ProtocolNative  = "native"
	ProtocolTextual = "textual"
)

// Dispatcher executes one agent turn: it assembles the provider request,
// adapts it to the model's capabilities, retries transient failures and runs
// the tool calls the model asked for.
type Dispatcher struct {
	provider llm.Provider
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer

	caps         *CapabilityTable
	retry        resilience.RetryConfig
	timeout      time.Duration
	protocol     string
	defaultModel string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRegistry lets the dispatcher fall back to registry tools (plugin tools
// included) when an agent emits a call for a tool it does not carry itself.
func WithRegistry(r *registry.Registry) Option {
	return func(d *Dispatcher) { d.registry = r }
}

// WithLogger injects the dispatcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics injects the metric recorders. Nil is fine; recording no-ops.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithCapabilityTable replaces the built-in model capability table.
func WithCapabilityTable(t *CapabilityTable) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.caps = t
		}
	}
}

// WithRetry sets the retry policy for provider calls.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(d *Dispatcher) { d.retry = rc }
}

// WithTimeout bounds each provider attempt. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithProtocol forces the tool-call protocol instead of deciding per model.
func WithProtocol(protocol string) Option {
	return func(d *Dispatcher) { d.protocol = protocol }
}

// WithDefaultModel sets the model used when neither the request nor the
// agent names one.
func WithDefaultModel(model string) Option {
	return func(d *Dispatcher) { d.defaultModel = model }
}

// New creates a Dispatcher around a provider.
func New(provider llm.Provider, opts ...Option) (*Dispatcher, error) {
	if provider == nil {
		return nil, errors.Newf(errors.CodeConfiguration, "dispatcher requires a provider")
	}
	d := &Dispatcher{
		provider: provider,
		logger:   slog.Default(),
		tracer:   otel.Tracer("ergon"),
		caps:     NewCapabilityTable(),
		retry:    resilience.DefaultRetryConfig(),
		protocol: ProtocolAuto,
	}
	for _, opt := range opts {
		opt(d)
	}
	switch d.protocol {
	case ProtocolAuto, ProtocolNative, ProtocolTextual:
	default:
		return nil, errors.Newf(errors.CodeConfiguration, "unknown dispatch protocol %q", d.protocol)
	}
	return d, nil
}

// Request is one agent turn to dispatch.
type Request struct {
	// Agent provides instructions, examples and tool contracts.
	Agent *agent.Agent

	// History is the conversation so far, oldest first.
	History []llm.Message

	// ContextVars is the shared conversation state threaded into
	// instructions and context-aware tools. May be nil.
	ContextVars map[string]interface{}

	// Model overrides the agent's model binding for this call.
	Model string
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	CallID string
	Name   string
	Args   map[string]interface{}
	Result map[string]interface{}
}

// Response is the normalized outcome of a dispatch: the assistant message
// with structured tool calls regardless of the wire protocol, the executed
// tool results, and accounting.
type Response struct {
	Message     llm.Message
	ToolResults []ToolResult
	Usage       llm.Usage

	// Attempts is how many provider calls ran, including the successful one.
	Attempts int

	// Protocol is the mode the call actually used.
	Protocol string
}

// Dispatch runs one agent turn.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if req.Agent == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "dispatch request has no agent")
	}

	model := req.Model
	if model == "" {
		model = req.Agent.Model()
	}
	if model == "" {
		model = d.defaultModel
	}
	if model == "" {
		return nil, errors.Newf(errors.CodeConfiguration, "agent %s has no model and no default is configured", req.Agent.Name())
	}

	caps := d.caps.Resolve(model)
	protocol, err := d.resolveProtocol(req.Agent, model, caps)
	if err != nil {
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("agent", req.Agent.Name()),
			attribute.String("model", model),
			attribute.String("protocol", protocol),
		))
	defer span.End()

	chatReq := d.buildChatRequest(req, model, caps, protocol)

	resp, attempts, err := d.callProvider(ctx, model, chatReq)
	d.metrics.RecordCompletion(ctx, model, err == nil)
	d.metrics.RecordRetries(ctx, model, attempts)
	if err != nil {
		d.metrics.RecordError(ctx, err, "dispatch")
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, errors.New(errors.CodeProvider, "completion failed", err).
			WithContext("model", model).
			WithContext("attempts", attempts)
	}
	d.metrics.RecordTokens(ctx, model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	msg := d.normalizeMessage(req.Agent.Name(), protocol, resp)
	results, err := d.runToolCalls(ctx, req, msg.ToolCalls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool execution failed")
		return nil, err
	}

	return &Response{
		Message:     msg,
		ToolResults: results,
		Usage:       resp.Usage,
		Attempts:    attempts,
		Protocol:    protocol,
	}, nil
}

// DispatchStream runs one agent turn against a streaming provider, handing
// the raw chunk sequence to the caller. Streaming bypasses textual tool-call
// extraction and retries.
func (d *Dispatcher) DispatchStream(ctx context.Context, req Request) (<-chan llm.StreamChunk, error) {
	streamer, ok := d.provider.(llm.StreamingProvider)
	if !ok {
		return nil, errors.Newf(errors.CodeConfiguration, "provider does not support streaming")
	}
	if req.Agent == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "dispatch request has no agent")
	}

	model := req.Model
	if model == "" {
		model = req.Agent.Model()
	}
	if model == "" {
		model = d.defaultModel
	}
	if model == "" {
		return nil, errors.Newf(errors.CodeConfiguration, "agent %s has no model and no default is configured", req.Agent.Name())
	}

	caps := d.caps.Resolve(model)
	protocol, err := d.resolveProtocol(req.Agent, model, caps)
	if err != nil {
		return nil, err
	}
	return streamer.ChatStream(ctx, d.buildChatRequest(req, model, caps, protocol))
}

// resolveProtocol decides the tool-call mode for a model, enforcing that
// forced native requires function calling and that textual agents declare
// tool_choice "required".
func (d *Dispatcher) resolveProtocol(a *agent.Agent, model string, caps Capabilities) (string, error) {
	protocol := d.protocol
	if protocol == ProtocolAuto {
		if caps.FunctionCalling {
			protocol = ProtocolNative
		} else {
			protocol = ProtocolTextual
		}
	}
	if protocol == ProtocolNative && !caps.FunctionCalling {
		return "", errors.Newf(errors.CodeConfiguration, "model %s does not support native function calling", model)
	}
	if protocol == ProtocolTextual && len(a.Functions()) > 0 && a.ToolChoice() != llm.ToolChoiceRequired {
		return "", errors.Newf(errors.CodeConfiguration,
			"agent %s uses the textual protocol but its tool choice is not %q", a.Name(), llm.ToolChoiceRequired)
	}
	return protocol, nil
}

func (d *Dispatcher) buildChatRequest(req Request, model string, caps Capabilities, protocol string) llm.ChatRequest {
	tools := req.Agent.Tools()

	system := req.Agent.Instructions(req.ContextVars)
	if protocol == ProtocolTextual && len(tools) > 0 {
		system += fncall.PromptSuffix(tools)
	}

	messages := make([]llm.Message, 0, len(req.History)+len(req.Agent.Examples())+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, req.Agent.Examples()...)
	messages = append(messages, req.History...)

	if protocol == ProtocolTextual {
		messages = fncall.HistoryToTextual(messages)
	}
	if caps.NoSenderField {
		messages = fncall.StripSender(messages)
	}
	if caps.InterleaveUserTurns {
		messages = fncall.InterleaveUser(messages)
	}

	chatReq := llm.ChatRequest{
		Model:    model,
		Messages: messages,
	}
	if protocol == ProtocolNative && len(tools) > 0 {
		if caps.NonEmptyObjectProperties {
			tools = padToolSchemas(tools)
		}
		chatReq.Tools = tools
		chatReq.ToolChoice = req.Agent.ToolChoice()
		chatReq.ParallelToolCalls = req.Agent.ParallelToolCalls()
	}
	return chatReq
}

func (d *Dispatcher) callProvider(ctx context.Context, model string, chatReq llm.ChatRequest) (*llm.ChatResponse, int, error) {
	retry := d.retry
	userOnRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error) {
		d.logger.Warn("retrying completion", "model", model, "attempt", attempt, "error", err)
		if userOnRetry != nil {
			userOnRetry(attempt, err)
		}
	}

	var resp *llm.ChatResponse
	attempts, err := retry.DoWithAttempts(ctx, func() error {
		r, callErr := resilience.WithTimeoutResult(ctx, d.timeout, func(ctx context.Context) (*llm.ChatResponse, error) {
			return d.provider.Chat(ctx, chatReq)
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})
	return resp, attempts, err
}

// normalizeMessage converts the provider response into an assistant message
// with structured tool calls regardless of the wire protocol.
func (d *Dispatcher) normalizeMessage(agentName, protocol string, resp *llm.ChatResponse) llm.Message {
	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		Sender:    agentName,
		ToolCalls: resp.ToolCalls,
	}
	if protocol != ProtocolTextual {
		return msg
	}
	calls, dropped := fncall.ExtractToolCalls(resp.Content)
	if dropped > 0 {
		d.logger.Debug("discarded malformed tool blocks", "agent", agentName, "count", dropped)
	}
	if len(calls) > 0 {
		msg.ToolCalls = calls
		msg.Content = fncall.StripBlocks(resp.Content)
	}
	return msg
}

// runToolCalls executes the model's tool calls in order. Unknown tools and
// unparseable arguments become error payloads in the result, reported back to
// the model rather than aborting the turn; a failure inside a known tool's
// handler propagates.
func (d *Dispatcher) runToolCalls(ctx context.Context, req Request, calls []llm.ToolCall) ([]ToolResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		name := call.Function.Name
		res := ToolResult{CallID: call.ID, Name: name}

		args, err := parseArguments(call.Function.Arguments)
		if err != nil {
			d.logger.Warn("tool call has unparseable arguments", "tool", name, "error", err)
			d.metrics.RecordToolInvocation(ctx, name, false)
			res.Result = tool.ErrorResult("invalid arguments for tool %q: %v", name, err)
			results = append(results, res)
			continue
		}
		res.Args = args

		contract := d.resolveTool(req.Agent, name)
		if contract == nil {
			d.logger.Warn("tool not found", "agent", req.Agent.Name(), "tool", name)
			d.metrics.RecordToolInvocation(ctx, name, false)
			d.metrics.RecordError(ctx, errors.Newf(errors.CodeToolNotFound, "tool %q not found", name), "dispatch")
			res.Result = tool.ErrorResult("tool %q not found", name)
			results = append(results, res)
			continue
		}

		out, err := contract.Invoke(ctx, args, req.ContextVars)
		d.metrics.RecordToolInvocation(ctx, name, err == nil)
		if err != nil {
			d.metrics.RecordError(ctx, err, "dispatch")
			return nil, err
		}
		res.Result = out
		results = append(results, res)
	}
	return results, nil
}

// resolveTool prefers the agent's own contracts, falling back to the registry
// (plugin tools included) when one is attached.
func (d *Dispatcher) resolveTool(a *agent.Agent, name string) *tool.Contract {
	if contract := a.Function(name); contract != nil {
		return contract
	}
	if d.registry != nil {
		if contract, ok := d.registry.Tool(name); ok {
			return contract
		}
	}
	return nil
}

func parseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// padToolSchemas deep-copies each tool's parameter schema and injects
// placeholder properties into empty objects, leaving the agent's contracts
// untouched.
func padToolSchemas(tools []llm.Tool) []llm.Tool {
	out := make([]llm.Tool, len(tools))
	for i, t := range tools {
		t.Function.Parameters = schema.EnsureNonEmpty(cloneObject(t.Function.Parameters))
		out[i] = t
	}
	return out
}

func cloneObject(params interface{}) *schema.Object {
	if params == nil {
		return schema.NewObject()
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return schema.NewObject()
	}
	var obj schema.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return schema.NewObject()
	}
	if obj.Type == "" {
		obj.Type = "object"
	}
	if obj.Properties == nil {
		obj.Properties = map[string]*schema.Property{}
	}
	return &obj
}
