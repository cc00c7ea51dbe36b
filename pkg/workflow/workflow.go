// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

// Package workflow models dependency-graph workflows and executes them in
// ready-set batches, folding step outputs into a shared context.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// Status is a workflow or step lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
	StatusCancelled Status = "CANCELLED"
	StatusPaused    Status = "PAUSED"
)

// StepResult is the terminal record of one step execution.
type StepResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// StepFunc is a step's unit of work. It receives a snapshot of the shared
// workflow context (keyed by step id); steps in the same ready batch never
// observe each other's results.
type StepFunc func(ctx context.Context, wfContext map[string]interface{}) (map[string]interface{}, error)

// Step is one node of a workflow.
type Step struct {
	ID           string
	Name         string
	Description  string
	Fn           StepFunc
	Dependencies []string

	// Config is the opaque payload carried in the transport shape.
	Config map[string]interface{}

	Status     Status
	Result     *StepResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Workflow is a set of steps with data dependencies plus the shared context
// their results accumulate into.
type Workflow struct {
	ID          string
	Name        string
	Description string

	mu      sync.Mutex
	steps   map[string]*Step
	order   []string
	status  Status
	context map[string]interface{}

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// New creates an empty workflow.
func New(name string) *Workflow {
	return &Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		steps:     map[string]*Step{},
		status:    StatusPending,
		context:   map[string]interface{}{},
		CreatedAt: time.Now().UTC(),
	}
}

// AddStep registers a step. A missing id is filled from the name; a
// duplicate id is a configuration error.
func (w *Workflow) AddStep(s *Step) error {
	if s == nil {
		return errors.Newf(errors.CodeInvalidInput, "workflow %s: nil step", w.Name)
	}
	if s.ID == "" {
		s.ID = s.Name
	}
	if s.ID == "" {
		return errors.Newf(errors.CodeConfiguration, "workflow %s: step needs an id or name", w.Name)
	}
	if s.Fn == nil {
		return errors.Newf(errors.CodeConfiguration, "workflow %s: step %s has no function", w.Name, s.ID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.steps[s.ID]; exists {
		return errors.Newf(errors.CodeConfiguration, "workflow %s: duplicate step id %q", w.Name, s.ID)
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	w.steps[s.ID] = s
	w.order = append(w.order, s.ID)
	return nil
}

// Step returns the step with the given id, or nil.
func (w *Workflow) Step(id string) *Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.steps[id]
}

// Steps returns all steps in registration order.
func (w *Workflow) Steps() []*Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Step, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.steps[id])
	}
	return out
}

// Status returns the workflow status.
func (w *Workflow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Context returns a shallow copy of the shared context.
func (w *Workflow) Context() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyContext(w.context)
}

// Validate checks that every dependency resolves to a known step and that
// the dependency graph is acyclic. Cycles are a configuration error, never a
// silent deadlock at run time.
func (w *Workflow) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.steps) == 0 {
		return errors.Newf(errors.CodeConfiguration, "workflow %s has no steps", w.Name)
	}

	indegree := make(map[string]int, len(w.steps))
	dependents := make(map[string][]string, len(w.steps))
	for id, s := range w.steps {
		indegree[id] += 0
		for _, dep := range s.Dependencies {
			if _, ok := w.steps[dep]; !ok {
				return errors.Newf(errors.CodeConfiguration,
					"workflow %s: step %s depends on unknown step %q", w.Name, id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	// Kahn's algorithm; anything left with indegree > 0 sits on a cycle.
	queue := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(w.steps) {
		return errors.Newf(errors.CodeConfiguration,
			"workflow %s: dependency cycle detected", w.Name)
	}
	return nil
}

// ReadySteps returns every PENDING step whose dependencies are all
// COMPLETED, in registration order.
func (w *Workflow) ReadySteps() []*Step {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []*Step
	for _, id := range w.order {
		s := w.steps[id]
		if s.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range s.Dependencies {
			if d := w.steps[dep]; d == nil || d.Status != StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s)
		}
	}
	return ready
}

// Cancel stops further scheduling. In-flight steps finish; their results are
// still recorded.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == StatusRunning || w.status == StatusPending || w.status == StatusPaused {
		w.status = StatusCancelled
	}
}

// Pause suspends scheduling until Resume.
func (w *Workflow) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == StatusRunning {
		w.status = StatusPaused
	}
}

// Resume reverses Pause.
func (w *Workflow) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == StatusPaused {
		w.status = StatusRunning
	}
}

// Reset returns the workflow and every step to PENDING and clears the shared
// context, so the workflow can be executed again.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = StatusPending
	w.context = map[string]interface{}{}
	w.StartedAt = time.Time{}
	w.FinishedAt = time.Time{}
	for _, s := range w.steps {
		s.Status = StatusPending
		s.Result = nil
		s.StartedAt = time.Time{}
		s.FinishedAt = time.Time{}
	}
}

// Results returns the result of every step that produced one, keyed by id.
func (w *Workflow) Results() map[string]StepResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]StepResult, len(w.steps))
	for id, s := range w.steps {
		if s.Result != nil {
			out[id] = *s.Result
		}
	}
	return out
}

// snapshotContext copies the shared context for handing to a batch.
func (w *Workflow) snapshotContext() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyContext(w.context)
}

// setStatus transitions the workflow status under lock.
func (w *Workflow) setStatus(s Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
}

// startStep marks a step RUNNING. Held under the workflow lock so readers
// like Steps and Results never observe a half-written transition.
func (w *Workflow) startStep(s *Step) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s.Status = StatusRunning
	s.StartedAt = time.Now().UTC()
}

// completeStep records a step outcome and merges its data into the shared
// context. Called after the step's function has returned.
func (w *Workflow) completeStep(s *Step, res StepResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s.Result = &res
	s.FinishedAt = time.Now().UTC()
	if res.Success {
		s.Status = StatusCompleted
		w.context[s.ID] = res.Data
	} else {
		s.Status = StatusFailed
	}
}

// skipBlockedSteps marks every PENDING step whose dependency chain contains
// a FAILED step as SKIPPED. Called once scheduling has stopped.
func (w *Workflow) skipBlockedSteps() {
	w.mu.Lock()
	defer w.mu.Unlock()

	blocked := func(s *Step) bool {
		for _, dep := range s.Dependencies {
			if d := w.steps[dep]; d != nil && (d.Status == StatusFailed || d.Status == StatusSkipped) {
				return true
			}
		}
		return false
	}
	for changed := true; changed; {
		changed = false
		for _, s := range w.steps {
			if s.Status == StatusPending && blocked(s) {
				s.Status = StatusSkipped
				changed = true
			}
		}
	}
}

// terminalStatus decides the workflow's final status once no step is ready.
func (w *Workflow) terminalStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status == StatusCancelled {
		return StatusCancelled
	}
	failed := false
	for _, s := range w.steps {
		switch s.Status {
		case StatusFailed:
			failed = true
		case StatusCompleted, StatusSkipped:
		default:
			// A step left PENDING with no failure upstream means the
			// graph stalled; treat it as failure.
			failed = true
		}
	}
	if failed {
		return StatusFailed
	}
	return StatusCompleted
}

func copyContext(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
