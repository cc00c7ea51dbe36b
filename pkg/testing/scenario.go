// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing Ergon agents: declarative
// dispatch scenarios, a scripted provider, and assertion helpers over
// requests and responses.
//
// Example usage:
//
//	scenario := testing.NewScenario("greeting").
//	    WithInput("Hello").
//	    ExpectOutput(testing.Contains("Hello")).
//	    ExpectNoToolCalls()
//
//	result := scenario.Run(t, dispatcher, agent)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/dispatch"
	"github.com/ergonlabs/ergon/pkg/llm"
)

// Scenario is a declarative single-turn dispatch test.
type Scenario struct {
	name          string
	description   string
	input         string
	contextVars   map[string]interface{}
	history       []llm.Message
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation is a condition verified against a scenario result.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult is the outcome of running a scenario.
type ScenarioResult struct {
	Response *dispatch.Response
	Error    error
	Duration time.Duration
}

// Output returns the assistant message content, or "" on failure.
func (r *ScenarioResult) Output() string {
	if r.Response == nil {
		return ""
	}
	return r.Response.Message.Content
}

// ToolCalls returns the tool calls the model emitted, or nil on failure.
func (r *ScenarioResult) ToolCalls() []llm.ToolCall {
	if r.Response == nil {
		return nil
	}
	return r.Response.Message.ToolCalls
}

// NewScenario creates a scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithDescription adds a description.
func (s *Scenario) WithDescription(desc string) *Scenario {
	s.description = desc
	return s
}

// WithInput sets the user prompt.
func (s *Scenario) WithInput(input string) *Scenario {
	s.input = input
	return s
}

// WithHistory prepends earlier conversation turns before the input.
func (s *Scenario) WithHistory(history ...llm.Message) *Scenario {
	s.history = append(s.history, history...)
	return s
}

// WithContextVars sets the shared conversation state for the turn.
func (s *Scenario) WithContextVars(vars map[string]interface{}) *Scenario {
	s.contextVars = vars
	return s
}

// WithContext sets the base context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout bounds the scenario run.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectOutput expects the assistant content to match.
func (s *Scenario) ExpectOutput(matcher StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: matcher})
}

// ExpectNoError expects the dispatch to succeed.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectError expects a dispatch error matching the given pattern.
func (s *Scenario) ExpectError(matcher StringMatcher) *Scenario {
	return s.Expect(&errorExpectation{matcher: matcher})
}

// ExpectToolCall expects the model to call the named tool.
func (s *Scenario) ExpectToolCall(toolName string) *Scenario {
	return s.Expect(&toolCallExpectation{toolName: toolName})
}

// ExpectNoToolCalls expects no tool calls.
func (s *Scenario) ExpectNoToolCalls() *Scenario {
	return s.Expect(&noToolCallsExpectation{})
}

// ExpectAttempts expects the provider call to have taken exactly n attempts.
func (s *Scenario) ExpectAttempts(n int) *Scenario {
	return s.Expect(&attemptsExpectation{attempts: n})
}

// ExpectMaxDuration expects the scenario to complete within the duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// Run executes the scenario through the dispatcher.
func (s *Scenario) Run(t *testing.T, d *dispatch.Dispatcher, a *agent.Agent) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	history := append([]llm.Message(nil), s.history...)
	if s.input != "" {
		history = append(history, llm.Message{Role: llm.RoleUser, Content: s.input})
	}

	start := time.Now()
	resp, err := d.Dispatch(ctx, dispatch.Request{
		Agent:       a,
		History:     history,
		ContextVars: s.contextVars,
	})
	return &ScenarioResult{
		Response: resp,
		Error:    err,
		Duration: time.Since(start),
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("expectation %q failed: %v", exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing the substring.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals matches exact string equality.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex matches against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix matches strings with the given prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

// HasSuffix matches strings with the given suffix.
func HasSuffix(suffix string) StringMatcher {
	return &suffixMatcher{suffix: suffix}
}

type containsMatcher struct {
	substr string
}

func (m *containsMatcher) Match(s string) bool {
	return strings.Contains(s, m.substr)
}

func (m *containsMatcher) Description() string {
	return fmt.Sprintf("contains %q", m.substr)
}

type equalsMatcher struct {
	expected string
}

func (m *equalsMatcher) Match(s string) bool {
	return s == m.expected
}

func (m *equalsMatcher) Description() string {
	return fmt.Sprintf("equals %q", m.expected)
}

type regexMatcher struct {
	pattern string
}

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string {
	return fmt.Sprintf("matches regex %q", m.pattern)
}

type prefixMatcher struct {
	prefix string
}

func (m *prefixMatcher) Match(s string) bool {
	return strings.HasPrefix(s, m.prefix)
}

func (m *prefixMatcher) Description() string {
	return fmt.Sprintf("has prefix %q", m.prefix)
}

type suffixMatcher struct {
	suffix string
}

func (m *suffixMatcher) Match(s string) bool {
	return strings.HasSuffix(s, m.suffix)
}

func (m *suffixMatcher) Description() string {
	return fmt.Sprintf("has suffix %q", m.suffix)
}

type outputExpectation struct {
	matcher StringMatcher
}

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if !e.matcher.Match(r.Output()) {
		return fmt.Errorf("output %q does not match: %s", r.Output(), e.matcher.Description())
	}
	return nil
}

func (e *outputExpectation) Description() string {
	return fmt.Sprintf("output %s", e.matcher.Description())
}

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("expected no error, got: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string {
	return "no error"
}

type errorExpectation struct {
	matcher StringMatcher
}

func (e *errorExpectation) Check(r *ScenarioResult) error {
	if r.Error == nil {
		return fmt.Errorf("expected error matching %s, got nil", e.matcher.Description())
	}
	if !e.matcher.Match(r.Error.Error()) {
		return fmt.Errorf("error %q does not match: %s", r.Error.Error(), e.matcher.Description())
	}
	return nil
}

func (e *errorExpectation) Description() string {
	return fmt.Sprintf("error %s", e.matcher.Description())
}

type toolCallExpectation struct {
	toolName string
}

func (e *toolCallExpectation) Check(r *ScenarioResult) error {
	for _, tc := range r.ToolCalls() {
		if tc.Function.Name == e.toolName {
			return nil
		}
	}
	return fmt.Errorf("tool %q was not called, got %s", e.toolName, FormatToolCalls(r.ToolCalls()))
}

func (e *toolCallExpectation) Description() string {
	return fmt.Sprintf("tool %q called", e.toolName)
}

type noToolCallsExpectation struct{}

func (e *noToolCallsExpectation) Check(r *ScenarioResult) error {
	if calls := r.ToolCalls(); len(calls) > 0 {
		return fmt.Errorf("expected no tool calls, got %s", FormatToolCalls(calls))
	}
	return nil
}

func (e *noToolCallsExpectation) Description() string {
	return "no tool calls"
}

type attemptsExpectation struct {
	attempts int
}

func (e *attemptsExpectation) Check(r *ScenarioResult) error {
	if r.Response == nil {
		return fmt.Errorf("expected %d attempts, but dispatch failed: %v", e.attempts, r.Error)
	}
	if r.Response.Attempts != e.attempts {
		return fmt.Errorf("expected %d attempts, got %d", e.attempts, r.Response.Attempts)
	}
	return nil
}

func (e *attemptsExpectation) Description() string {
	return fmt.Sprintf("%d attempts", e.attempts)
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("duration %v exceeds maximum %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("duration <= %v", e.max)
}
