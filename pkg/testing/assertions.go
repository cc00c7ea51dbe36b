// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/ergonlabs/ergon/pkg/dispatch"
	"github.com/ergonlabs/ergon/pkg/llm"
)

// Assertions provides assertion helpers for tests that prefer fluent checks
// over bare conditionals.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates an assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed reports whether any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

// AssertEqual asserts that two values are equal.
func (a *Assertions) AssertEqual(expected, actual interface{}, msg string) {
	a.t.Helper()
	if expected != actual {
		a.t.Errorf("%s: expected %v, got %v", msg, expected, actual)
		a.failed = true
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.t.Errorf("%s: expected true", msg)
		a.failed = true
	}
}

// AssertContains asserts that the string contains the substring.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.t.Errorf("%s: %q does not contain %q", msg, s, substr)
		a.failed = true
	}
}

// AssertError asserts that the error is not nil.
func (a *Assertions) AssertError(err error, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error, got nil", msg)
		a.failed = true
	}
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.t.Errorf("%s: unexpected error: %v", msg, err)
		a.failed = true
	}
}

// AssertErrorContains asserts that the error message contains the substring.
func (a *Assertions) AssertErrorContains(err error, substr, msg string) {
	a.t.Helper()
	if err == nil {
		a.t.Errorf("%s: expected error containing %q, got nil", msg, substr)
		a.failed = true
		return
	}
	if !strings.Contains(err.Error(), substr) {
		a.t.Errorf("%s: error %q does not contain %q", msg, err.Error(), substr)
		a.failed = true
	}
}

// RequestAssertions provides assertion helpers for captured provider
// requests.
type RequestAssertions struct {
	*Assertions
	req *llm.ChatRequest
}

// AssertRequest creates request assertions for the given request.
func (a *Assertions) AssertRequest(req *llm.ChatRequest) *RequestAssertions {
	a.t.Helper()
	if req == nil {
		a.t.Error("request is nil")
		a.failed = true
		return &RequestAssertions{Assertions: a, req: &llm.ChatRequest{}}
	}
	return &RequestAssertions{Assertions: a, req: req}
}

// HasModel asserts the request uses the given model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.t.Errorf("expected model %q, got %q", model, r.req.Model)
		r.failed = true
	}
	return r
}

// HasMessageCount asserts the number of messages in the request.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != count {
		r.t.Errorf("expected %d messages, got %d", count, len(r.req.Messages))
		r.failed = true
	}
	return r
}

// HasToolCount asserts the number of tools in the request.
func (r *RequestAssertions) HasToolCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Tools) != count {
		r.t.Errorf("expected %d tools, got %d", count, len(r.req.Tools))
		r.failed = true
	}
	return r
}

// HasSystemMessage asserts a system message exists containing the substring.
func (r *RequestAssertions) HasSystemMessage(contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == llm.RoleSystem && strings.Contains(msg.Content, contains) {
			return r
		}
	}
	r.t.Errorf("no system message containing %q found", contains)
	r.failed = true
	return r
}

// HasUserMessage asserts a user message exists containing the substring.
func (r *RequestAssertions) HasUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == llm.RoleUser && strings.Contains(msg.Content, contains) {
			return r
		}
	}
	r.t.Errorf("no user message containing %q found", contains)
	r.failed = true
	return r
}

// HasTool asserts a tool with the given name exists.
func (r *RequestAssertions) HasTool(name string) *RequestAssertions {
	r.t.Helper()
	for _, t := range r.req.Tools {
		if t.Function.Name == name {
			return r
		}
	}
	r.t.Errorf("tool %q not found in request", name)
	r.failed = true
	return r
}

// DispatchAssertions provides assertion helpers for dispatch responses.
type DispatchAssertions struct {
	*Assertions
	resp *dispatch.Response
}

// AssertDispatch creates assertions for the given dispatch response.
func (a *Assertions) AssertDispatch(resp *dispatch.Response) *DispatchAssertions {
	a.t.Helper()
	if resp == nil {
		a.t.Error("dispatch response is nil")
		a.failed = true
		return &DispatchAssertions{Assertions: a, resp: &dispatch.Response{}}
	}
	return &DispatchAssertions{Assertions: a, resp: resp}
}

// HasContent asserts the assistant message contains the substring.
func (d *DispatchAssertions) HasContent(contains string) *DispatchAssertions {
	d.t.Helper()
	if !strings.Contains(d.resp.Message.Content, contains) {
		d.t.Errorf("message content %q does not contain %q", d.resp.Message.Content, contains)
		d.failed = true
	}
	return d
}

// HasToolCallNamed asserts the model emitted a call for the named tool.
func (d *DispatchAssertions) HasToolCallNamed(name string) *DispatchAssertions {
	d.t.Helper()
	for _, tc := range d.resp.Message.ToolCalls {
		if tc.Function.Name == name {
			return d
		}
	}
	d.t.Errorf("tool call %q not found, got %s", name, FormatToolCalls(d.resp.Message.ToolCalls))
	d.failed = true
	return d
}

// HasNoToolCalls asserts the model emitted no tool calls.
func (d *DispatchAssertions) HasNoToolCalls() *DispatchAssertions {
	d.t.Helper()
	if len(d.resp.Message.ToolCalls) > 0 {
		d.t.Errorf("expected no tool calls, got %s", FormatToolCalls(d.resp.Message.ToolCalls))
		d.failed = true
	}
	return d
}

// HasToolResult asserts a tool result exists for the named tool.
func (d *DispatchAssertions) HasToolResult(name string) *DispatchAssertions {
	d.t.Helper()
	for _, res := range d.resp.ToolResults {
		if res.Name == name {
			return d
		}
	}
	d.t.Errorf("no tool result for %q", name)
	d.failed = true
	return d
}

// HasAttempts asserts the provider call attempt count.
func (d *DispatchAssertions) HasAttempts(n int) *DispatchAssertions {
	d.t.Helper()
	if d.resp.Attempts != n {
		d.t.Errorf("expected %d attempts, got %d", n, d.resp.Attempts)
		d.failed = true
	}
	return d
}

// UsedProtocol asserts which tool-call protocol the dispatch used.
func (d *DispatchAssertions) UsedProtocol(protocol string) *DispatchAssertions {
	d.t.Helper()
	if d.resp.Protocol != protocol {
		d.t.Errorf("expected protocol %q, got %q", protocol, d.resp.Protocol)
		d.failed = true
	}
	return d
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertToolCallArgs checks the call targets the expected tool and returns
// its decoded arguments.
func AssertToolCallArgs(t *testing.T, tc llm.ToolCall, expectedName string) map[string]interface{} {
	t.Helper()
	if tc.Function.Name != expectedName {
		t.Errorf("expected tool %q, got %q", expectedName, tc.Function.Name)
	}

	var args map[string]interface{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			t.Errorf("failed to parse tool arguments: %v", err)
			return nil
		}
	}
	return args
}

// FormatToolCalls formats tool call names for error messages.
func FormatToolCalls(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return "(none)"
	}
	names := make([]string, len(calls))
	for i, tc := range calls {
		names[i] = tc.Function.Name
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ", "))
}
