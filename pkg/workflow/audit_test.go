// SPDX-License-Identifier: Apache-2.0
package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteAuditStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLiteAuditStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	started := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	events := []AuditEvent{
		{
			WorkflowID: "wf-1", RunID: "run-1", StepID: "build", StepName: "build",
			Status: string(StatusCompleted),
			Output: map[string]interface{}{"artifacts": float64(2)},
			StartedAt: started, FinishedAt: started.Add(time.Second),
		},
		{
			WorkflowID: "wf-1", RunID: "run-1", StepID: "test", StepName: "test",
			Status: string(StatusFailed), Error: "2 cases failed",
			StartedAt: started.Add(2 * time.Second), FinishedAt: started.Add(3 * time.Second),
		},
		{
			WorkflowID: "wf-2", RunID: "run-9", StepID: "deploy",
			Status: string(StatusCompleted),
			StartedAt: started.Add(4 * time.Second),
		},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}

	got, err := store.List(ctx, AuditFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "build", got[0].StepID)
	assert.Equal(t, float64(2), got[0].Output["artifacts"])
	assert.Equal(t, "2 cases failed", got[1].Error)
	assert.True(t, got[0].StartedAt.Equal(started))

	failed, err := store.List(ctx, AuditFilter{Status: string(StatusFailed)})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "test", failed[0].StepID)

	limited, err := store.List(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryAuditStoreFilters(t *testing.T) {
	store := NewMemoryAuditStore()
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, AuditEvent{WorkflowID: "w", RunID: "r1", StepID: "a", Status: "COMPLETED"}))
	require.NoError(t, store.Record(ctx, AuditEvent{WorkflowID: "w", RunID: "r2", StepID: "a", Status: "FAILED"}))

	byRun, err := store.List(ctx, AuditFilter{RunID: "r2"})
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.Equal(t, "FAILED", byRun[0].Status)

	byStep, err := store.List(ctx, AuditFilter{StepID: "a"})
	require.NoError(t, err)
	assert.Len(t, byStep, 2)
}
