// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AuditEvent records one step reaching a terminal status during a run.
type AuditEvent struct {
	WorkflowID string
	RunID      string
	StepID     string
	StepName   string
	Status     string
	Output     map[string]interface{}
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// AuditStore persists workflow audit events.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter limits audit queries.
type AuditFilter struct {
	WorkflowID string
	RunID      string
	StepID     string
	Status     string
	Limit      int
}

// MemoryAuditStore keeps audit events in memory, for tests and ephemeral use.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends an audit event.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns events matching the filter, in recording order.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.matches(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f AuditFilter) matches(ev AuditEvent) bool {
	if f.WorkflowID != "" && ev.WorkflowID != f.WorkflowID {
		return false
	}
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.StepID != "" && ev.StepID != f.StepID {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	return true
}

func encodeAuditOutput(output map[string]interface{}) (string, error) {
	if output == nil {
		return "null", nil
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeAuditOutput(raw string) map[string]interface{} {
	if raw == "" || raw == "null" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func auditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
