// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package fncall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/llm"
)

// blockRe matches ```tool fenced blocks, capturing the body.
var blockRe = regexp.MustCompile("(?s)```" + BlockFence + "\\s*\\n?(.*?)```")

// BlockResult is the parse outcome of one fenced tool block. Malformed
// blocks are reported, not raised; callers decide whether to count or log
// them.
type BlockResult struct {
	// Raw is the block body as it appeared in the text.
	Raw string

	// Call is the parsed tool call; valid only when Err is nil.
	Call llm.ToolCall

	// Err explains why the block was discarded.
	Err *errors.Error
}

// OK reports whether the block parsed into a tool call.
func (b BlockResult) OK() bool { return b.Err == nil }

// ParseBlocks scans free-form text for fenced tool blocks and parses each
// one. It never fails: unparseable blocks come back with Err set.
func ParseBlocks(text string) []BlockResult {
	matches := blockRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	results := make([]BlockResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, parseBlock(m[1]))
	}
	return results
}

func parseBlock(body string) BlockResult {
	res := BlockResult{Raw: body}

	var payload struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &payload); err != nil {
		res.Err = errors.New(errors.CodeMalformedToolCall, "tool block is not valid JSON", err)
		return res
	}
	if payload.Name == "" {
		res.Err = errors.Newf(errors.CodeMalformedToolCall, "tool block has no name")
		return res
	}
	// Both keys are required; a block without arguments is discarded, not
	// defaulted.
	if payload.Arguments == nil {
		res.Err = errors.Newf(errors.CodeMalformedToolCall, "tool block has no arguments")
		return res
	}

	res.Call = llm.ToolCall{
		ID:   NewCallID(),
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{
			Name:      payload.Name,
			Arguments: string(payload.Arguments),
		},
	}
	return res
}

// ExtractToolCalls returns the well-formed tool calls found in text together
// with the number of blocks that were discarded as malformed.
func ExtractToolCalls(text string) ([]llm.ToolCall, int) {
	var calls []llm.ToolCall
	dropped := 0
	for _, block := range ParseBlocks(text) {
		if block.OK() {
			calls = append(calls, block.Call)
		} else {
			dropped++
		}
	}
	return calls, dropped
}

// StripBlocks removes all fenced tool blocks from text, returning what
// remains trimmed.
func StripBlocks(text string) string {
	return strings.TrimSpace(blockRe.ReplaceAllString(text, ""))
}

// NewCallID generates a locally-unique tool call id.
func NewCallID() string {
	return "call_" + uuid.NewString()
}
