// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// Metrics tracks dispatch, tool and workflow activity through OTEL counters.
// A nil *Metrics is safe to use; every recorder no-ops.
type Metrics struct {
	completions     metric.Int64Counter
	retries         metric.Int64Counter
	toolInvocations metric.Int64Counter
	stepOutcomes    metric.Int64Counter
	errorsTotal     metric.Int64Counter
	tokensUsed      metric.Int64Counter
}

// NewMetrics registers the Ergon instrument set on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("ergon")

	completions, err := meter.Int64Counter(
		"ergon.dispatch.completions",
		metric.WithDescription("Completion calls by model and outcome"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"ergon.dispatch.retries",
		metric.WithDescription("Retry attempts beyond the first, by model"),
	)
	if err != nil {
		return nil, err
	}

	toolInvocations, err := meter.Int64Counter(
		"ergon.tools.invocations",
		metric.WithDescription("Tool invocations by tool name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	stepOutcomes, err := meter.Int64Counter(
		"ergon.workflow.steps",
		metric.WithDescription("Workflow step terminations by status"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"ergon.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"ergon.tokens.used",
		metric.WithDescription("Provider token usage by model and kind"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		completions:     completions,
		retries:         retries,
		toolInvocations: toolInvocations,
		stepOutcomes:    stepOutcomes,
		errorsTotal:     errorsTotal,
		tokensUsed:      tokensUsed,
	}, nil
}

// RecordCompletion counts one completion call against a model.
func (m *Metrics) RecordCompletion(ctx context.Context, model string, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.completions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	))
}

// RecordRetries counts attempts beyond the first for a completion call.
func (m *Metrics) RecordRetries(ctx context.Context, model string, attempts int) {
	if m == nil || attempts <= 1 {
		return
	}
	m.retries.Add(ctx, int64(attempts-1), metric.WithAttributes(
		attribute.String("model", model),
	))
}

// RecordToolInvocation counts one tool execution.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool string, success bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	m.toolInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

// RecordStepOutcome counts one workflow step reaching a terminal status.
func (m *Metrics) RecordStepOutcome(ctx context.Context, workflow, status string) {
	if m == nil {
		return
	}
	m.stepOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("status", status),
	))
}

// RecordError counts an error by its typed code and originating component.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", string(errors.CodeOf(err))),
		attribute.String("component", component),
	))
}

// RecordTokens counts provider token usage for a model.
func (m *Metrics) RecordTokens(ctx context.Context, model string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.tokensUsed.Add(ctx, int64(prompt), metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", "prompt"),
		))
	}
	if completion > 0 {
		m.tokensUsed.Add(ctx, int64(completion), metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", "completion"),
		))
	}
}
