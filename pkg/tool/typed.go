// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package tool

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/schema"
)

// NewTyped creates a contract whose handler receives decoded, typed
// arguments. The parameters schema is reflected from Args; descriptions may
// additionally be supplied in the description using the ":param name: text"
// convention, which also yields the summary actually advertised.
//
// An Args field tagged `json:"context_variables"` receives the shared
// conversation state and is excluded from the advertised schema.
func NewTyped[Args any](name, description string, fn func(ctx context.Context, args Args) (map[string]interface{}, error)) (*Contract, error) {
	params, err := schema.FromStruct[Args]()
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "reflect parameters for "+name, err)
	}
	summary := schema.ApplyDoc(params, description)
	if summary == "" {
		summary = description
	}

	handler := func(ctx context.Context, raw map[string]interface{}) (map[string]interface{}, error) {
		var args Args
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, errors.Newf(errors.CodeInvalidInput, "tool %s: arguments are not serializable", name)
		}
		if err := json.Unmarshal(buf, &args); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "tool "+name+": invalid arguments", err)
		}
		return fn(ctx, args)
	}

	var opts []Option
	if typeWantsContextVars[Args]() {
		opts = append(opts, WithContextVars())
	}
	return New(name, summary, params, handler, opts...)
}

// typeWantsContextVars reports whether Args declares a field bound to the
// reserved context-variables parameter.
func typeWantsContextVars[Args any]() bool {
	t := reflect.TypeOf((*Args)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if name, _, _ := strings.Cut(tag, ","); name == schema.ContextVarsParam {
			return true
		}
	}
	return false
}
