package llm

import (
	"context"
	"errors"
	"testing"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
	if len(mock.Requests) != 1 {
		t.Errorf("expected 1 recorded request, got %d", len(mock.Requests))
	}
}

func TestMockProviderToolCalls(t *testing.T) {
	mock := &MockProvider{
		ToolCalls: []ToolCall{{
			ID:       "call_1",
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: "search", Arguments: `{"query":"go"}`},
		}},
	}
	resp, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "search" {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
}

func TestScriptedMockErrorsBeforeResponses(t *testing.T) {
	scripted := NewScriptedMockProvider("finally")
	transient := errors.New("connection error")
	scripted.AddError(transient)
	scripted.AddError(nil)

	if _, err := scripted.Chat(context.Background(), ChatRequest{}); !errors.Is(err, transient) {
		t.Fatalf("expected scripted error, got %v", err)
	}
	resp, err := scripted.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "finally" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if scripted.CallCount != 2 {
		t.Errorf("expected 2 calls, got %d", scripted.CallCount)
	}
}

func TestUsageAdd(t *testing.T) {
	var total Usage
	total.Add(Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8})
	total.Add(Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})
	if total.TotalTokens != 10 || total.PromptTokens != 6 || total.CompletionTokens != 4 {
		t.Errorf("unexpected usage: %+v", total)
	}
}
