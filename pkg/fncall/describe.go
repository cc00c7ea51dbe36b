// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package fncall converts between native structured tool calls and the
// textual fenced-block protocol used with models that lack function calling.
package fncall

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/schema"
)

// BlockFence is the info string of the fenced code blocks carrying tool
// calls in textual mode.
const BlockFence = "tool"

// ToolsToDescription renders tool definitions into one human/LLM-readable
// enumeration, preserving input order.
func ToolsToDescription(tools []llm.Tool) string {
	var b strings.Builder
	for i, t := range tools {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Tool: %s\n", t.Function.Name)
		if t.Function.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", t.Function.Description)
		}
		writeParams(&b, t.Function.Parameters)
	}
	return b.String()
}

func writeParams(b *strings.Builder, params interface{}) {
	obj := paramsAsObject(params)
	if obj == nil || len(obj.Properties) == 0 {
		b.WriteString("Arguments: none\n")
		return
	}
	names := make([]string, 0, len(obj.Properties))
	for name := range obj.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("Arguments:\n")
	for _, name := range names {
		p := obj.Properties[name]
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		requirement := "optional"
		if obj.IsRequired(name) {
			requirement = "required"
		}
		fmt.Fprintf(b, "  - %s (%s, %s)", name, typ, requirement)
		if p.Description != "" {
			fmt.Fprintf(b, ": %s", p.Description)
		}
		b.WriteString("\n")
	}
}

// paramsAsObject coerces the loosely-typed parameters field into a schema
// object, tolerating maps and raw JSON produced by other layers.
func paramsAsObject(params interface{}) *schema.Object {
	switch v := params.(type) {
	case nil:
		return nil
	case *schema.Object:
		return v
	case schema.Object:
		return &v
	case map[string]interface{}:
		obj, err := schema.FromMap(v)
		if err != nil {
			return nil
		}
		return obj
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var obj schema.Object
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}
		return &obj
	}
}

// PromptSuffix renders the instruction block appended to the system message
// in textual mode: the tool enumeration plus the fenced-block convention the
// model must reply with.
func PromptSuffix(tools []llm.Tool) string {
	return fmt.Sprintf(`

You have access to the following tools:

%s
To call a tool, respond with a fenced code block of this exact form:

`+"```"+BlockFence+`
{"name": "<tool name>", "arguments": {"<arg>": "<value>"}}
`+"```"+`

Emit one block per tool call. Use a tool call whenever the task requires it.`, ToolsToDescription(tools))
}
