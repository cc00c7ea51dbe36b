// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ergonlabs/ergon/pkg/errors"
	"github.com/ergonlabs/ergon/pkg/telemetry"
)

// Engine executes workflows batch by batch: it computes the ready set, runs
// those steps concurrently against a context snapshot, merges results, and
// repeats until no step is ready.
type Engine struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	audit   AuditStore
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger injects the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics injects step-outcome metrics.
func WithMetrics(m *telemetry.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithAuditStore records a step-transition event stream.
func WithAuditStore(store AuditStore) EngineOption {
	return func(e *Engine) { e.audit = store }
}

// NewEngine creates a workflow engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: slog.Default(),
		tracer: otel.Tracer("ergon/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stepOutcome pairs a step with the result its function produced, buffered
// until the whole batch has finished.
type stepOutcome struct {
	step   *Step
	result StepResult
}

// Execute runs the workflow to a terminal status and returns every step
// result keyed by step id. The returned error covers construction problems
// only (nil or cyclic workflows); step failures are expressed through the
// workflow status and the result map.
func (e *Engine) Execute(ctx context.Context, w *Workflow) (map[string]StepResult, error) {
	if w == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "workflow is nil")
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	if w.Status() != StatusCancelled {
		w.setStatus(StatusRunning)
	}
	w.StartedAt = time.Now().UTC()
	e.logger.InfoContext(ctx, "workflow started",
		"workflow", w.Name, "run_id", runID, "steps", len(w.Steps()))

	ctx, span := e.tracer.Start(ctx, "Workflow.Execute",
		trace.WithAttributes(
			attribute.String("workflow.id", w.ID),
			attribute.String("workflow.name", w.Name),
			attribute.String("workflow.run_id", runID),
		),
	)
	defer span.End()

	for {
		if status := w.Status(); status == StatusCancelled || status == StatusPaused {
			break
		}
		ready := w.ReadySteps()
		if len(ready) == 0 {
			break
		}
		e.runBatch(ctx, w, runID, ready)
	}

	// A paused run is suspended, not finished: keep every remaining step
	// PENDING and the status PAUSED so Resume plus another Execute call can
	// pick up where scheduling stopped.
	if w.Status() == StatusPaused {
		span.SetAttributes(attribute.String("workflow.status", string(StatusPaused)))
		e.logger.InfoContext(ctx, "workflow paused",
			"workflow", w.Name, "run_id", runID)
		return w.Results(), nil
	}

	w.skipBlockedSteps()
	final := w.terminalStatus()
	w.setStatus(final)
	w.FinishedAt = time.Now().UTC()
	span.SetAttributes(attribute.String("workflow.status", string(final)))
	e.logger.InfoContext(ctx, "workflow finished",
		"workflow", w.Name, "run_id", runID, "status", string(final))

	return w.Results(), nil
}

// runBatch executes one ready set concurrently. Every step sees the same
// context snapshot; results merge only after the whole batch returns.
func (e *Engine) runBatch(ctx context.Context, w *Workflow, runID string, batch []*Step) {
	snapshot := w.snapshotContext()
	outcomes := make([]stepOutcome, len(batch))

	var wg sync.WaitGroup
	for i, s := range batch {
		w.startStep(s)

		wg.Add(1)
		go func(i int, s *Step) {
			defer wg.Done()
			outcomes[i] = stepOutcome{step: s, result: e.runStep(ctx, w, s, snapshot)}
		}(i, s)
	}
	wg.Wait()

	for _, out := range outcomes {
		w.completeStep(out.step, out.result)
		e.metrics.RecordStepOutcome(ctx, w.Name, string(out.step.Status))
		e.recordAudit(ctx, w, runID, out.step)
	}
}

// runStep invokes one step function, converting errors and panics into a
// failure result so sibling steps keep running.
func (e *Engine) runStep(ctx context.Context, w *Workflow, s *Step, snapshot map[string]interface{}) (result StepResult) {
	ctx, span := e.tracer.Start(ctx, "Workflow.Step",
		trace.WithAttributes(
			attribute.String("step.id", s.ID),
			attribute.String("workflow.name", w.Name),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = StepResult{Success: false, Error: fmt.Sprintf("step panicked: %v", r)}
			e.logger.ErrorContext(ctx, "workflow step panicked",
				"workflow", w.Name, "step", s.ID, "panic", fmt.Sprintf("%v", r))
		}
	}()

	data, err := s.Fn(ctx, snapshot)
	if err != nil {
		e.logger.WarnContext(ctx, "workflow step failed",
			"workflow", w.Name, "step", s.ID, "error", err)
		return StepResult{Success: false, Error: err.Error()}
	}
	return StepResult{Success: true, Data: data}
}

func (e *Engine) recordAudit(ctx context.Context, w *Workflow, runID string, s *Step) {
	if e.audit == nil {
		return
	}
	event := AuditEvent{
		WorkflowID: w.ID,
		RunID:      runID,
		StepID:     s.ID,
		StepName:   s.Name,
		Status:     string(s.Status),
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	if s.Result != nil {
		event.Output = s.Result.Data
		event.Error = s.Result.Error
	}
	if err := e.audit.Record(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "audit record failed",
			"workflow", w.Name, "step", s.ID, "error", err)
	}
}
