// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package schema

import (
	"strings"
)

// Doc is the result of parsing a tool description written in the
// ":param name: text" convention.
type Doc struct {
	// Summary is the free text preceding the first :param line.
	Summary string

	// Params maps parameter names to their descriptions.
	Params map[string]string
}

// ParseDoc splits a description into a summary and per-parameter
// descriptions. A parameter line looks like
//
//	:param query: The search query.
//
// Continuation lines (indented, without a leading colon) are appended to the
// preceding parameter description.
func ParseDoc(doc string) Doc {
	out := Doc{Params: map[string]string{}}
	var summary []string
	current := ""

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if name, desc, ok := parseParamLine(trimmed); ok {
			current = name
			out.Params[name] = desc
			continue
		}
		if current != "" {
			if trimmed == "" {
				current = ""
				continue
			}
			out.Params[current] = strings.TrimSpace(out.Params[current] + " " + trimmed)
			continue
		}
		summary = append(summary, line)
	}

	out.Summary = strings.TrimSpace(strings.Join(summary, "\n"))
	return out
}

// parseParamLine matches ":param <name>: <description>".
func parseParamLine(line string) (name, desc string, ok bool) {
	const prefix = ":param "
	if !strings.HasPrefix(line, prefix) {
		return "", "", false
	}
	rest := line[len(prefix):]
	idx := strings.Index(rest, ":")
	if idx <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(rest[:idx])
	if name == "" || strings.ContainsAny(name, " \t") {
		return "", "", false
	}
	return name, strings.TrimSpace(rest[idx+1:]), true
}

// ApplyDoc copies parsed parameter descriptions onto matching schema
// properties that lack one, and returns the summary for use as the tool
// description.
func ApplyDoc(o *Object, doc string) string {
	parsed := ParseDoc(doc)
	if o != nil {
		for name, desc := range parsed.Params {
			if p, ok := o.Properties[name]; ok && p.Description == "" {
				p.Description = desc
			}
		}
	}
	return parsed.Summary
}
