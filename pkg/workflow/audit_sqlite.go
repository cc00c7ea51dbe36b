// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 © The Ergon Authors

package workflow

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/ergonlabs/ergon/pkg/errors"
)

// SQLiteAuditStore persists workflow audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// OpenSQLiteAuditStore opens (creating if needed) a SQLite-backed audit
// store at path.
func OpenSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "open audit database", err)
	}
	return NewSQLiteAuditStore(db)
}

// NewSQLiteAuditStore wraps an existing database handle, ensuring the schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "ensure audit schema", err)
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteAuditStore) Close() error {
	return s.db.Close()
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	output, err := encodeAuditOutput(event.Output)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_audit_events (
			workflow_id, run_id, step_id, step_name, status, output_json, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.WorkflowID,
		event.RunID,
		event.StepID,
		event.StepName,
		event.Status,
		output,
		event.Error,
		auditTime(event.StartedAt),
		auditTime(event.FinishedAt),
	)
	return err
}

// List returns audit events matching the filter, oldest first.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT workflow_id, run_id, step_id, step_name, status, output_json, error_text, started_at, finished_at
		FROM workflow_audit_events
	`
	var args []interface{}
	where := ""
	addClause := func(clause string, value interface{}) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.WorkflowID != "" {
		addClause("workflow_id = ?", filter.WorkflowID)
	}
	if filter.RunID != "" {
		addClause("run_id = ?", filter.RunID)
	}
	if filter.StepID != "" {
		addClause("step_id = ?", filter.StepID)
	}
	if filter.Status != "" {
		addClause("status = ?", filter.Status)
	}
	query += where + " ORDER BY started_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event      AuditEvent
			outputJSON string
			started    sql.NullTime
			finished   sql.NullTime
		)
		if err := rows.Scan(
			&event.WorkflowID,
			&event.RunID,
			&event.StepID,
			&event.StepName,
			&event.Status,
			&outputJSON,
			&event.Error,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		event.Output = decodeAuditOutput(outputJSON)
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			run_id TEXT,
			step_id TEXT NOT NULL,
			step_name TEXT,
			status TEXT NOT NULL,
			output_json TEXT,
			error_text TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_audit_workflow ON workflow_audit_events(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_workflow_audit_run ON workflow_audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_workflow_audit_status ON workflow_audit_events(status);
	`)
	return err
}
