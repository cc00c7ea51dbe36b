// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package fncall

import (
	"fmt"
	"strings"

	"github.com/ergonlabs/ergon/pkg/llm"
)

// ContinuePrompt is the synthetic user turn inserted between consecutive
// assistant messages for providers that reject back-to-back assistant turns.
const ContinuePrompt = "Please continue."

// ToTextual renders an assistant message's structured tool calls into fenced
// blocks appended to its content, clearing the tool_calls list. Messages
// without tool calls pass through unchanged. Used when replaying history to
// a model that cannot consume structured tool calls.
func ToTextual(msg llm.Message) llm.Message {
	if len(msg.ToolCalls) == 0 {
		return msg
	}
	var b strings.Builder
	if msg.Content != "" {
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	for i, call := range msg.ToolCalls {
		if i > 0 {
			b.WriteString("\n")
		}
		args := call.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		fmt.Fprintf(&b, "```%s\n{\"name\": %q, \"arguments\": %s}\n```\n", BlockFence, call.Function.Name, args)
	}
	out := msg
	out.Content = strings.TrimSpace(b.String())
	out.ToolCalls = nil
	return out
}

// ToNative extracts fenced tool blocks from an assistant message into a
// structured tool_calls list, nulling out the content. Messages with no
// well-formed blocks pass through unchanged.
func ToNative(msg llm.Message) llm.Message {
	if msg.Role != llm.RoleAssistant {
		return msg
	}
	calls, _ := ExtractToolCalls(msg.Content)
	if len(calls) == 0 {
		return msg
	}
	out := msg
	out.Content = ""
	out.ToolCalls = calls
	return out
}

// HistoryToTextual applies ToTextual across a conversation history.
func HistoryToTextual(history []llm.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, msg := range history {
		out[i] = ToTextual(msg)
	}
	return out
}

// InterleaveUser inserts a synthetic "Please continue." user turn between
// consecutive assistant messages.
func InterleaveUser(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for i, msg := range history {
		if i > 0 && msg.Role == llm.RoleAssistant && out[len(out)-1].Role == llm.RoleAssistant {
			out = append(out, llm.Message{Role: llm.RoleUser, Content: ContinuePrompt})
		}
		out = append(out, msg)
	}
	return out
}

// StripSender clears the sender annotation from every message, for providers
// that reject unknown message fields.
func StripSender(history []llm.Message) []llm.Message {
	out := make([]llm.Message, len(history))
	for i, msg := range history {
		msg.Sender = ""
		out[i] = msg
	}
	return out
}
