package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveFineTuningTask inserts a new Task API record (spec §6's
// POST /fine-tuning/create). The caller is responsible for assigning ID
// and CreatedAt/UpdatedAt if it needs them ahead of the insert; both are
// filled in here when left zero.
func (c *Client) SaveFineTuningTask(ctx context.Context, task *FineTuningTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = "queued"
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO fine_tuning_tasks (id, start_at, end_at, metadata, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.StartAt, task.EndAt, task.Metadata, task.Status, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save fine-tuning task: %w", err)
	}
	return nil
}

// GetFineTuningTask retrieves one task record by id, or (nil, nil) if
// unknown (spec §6's GET /fine-tuning/get/{id} 404 case).
func (c *Client) GetFineTuningTask(ctx context.Context, id uuid.UUID) (*FineTuningTask, error) {
	var task FineTuningTask
	err := c.sqlxDB.GetContext(ctx, &task, `
		SELECT id, start_at, end_at, metadata, status, created_at, updated_at
		FROM fine_tuning_tasks WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fine-tuning task: %w", err)
	}
	return &task, nil
}

// ListFineTuningTasks returns a page of tasks ordered by created_at
// descending (spec §6's GET /fine-tuning/get?skip&limit).
func (c *Client) ListFineTuningTasks(ctx context.Context, filter TaskFilter) ([]FineTuningTask, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []FineTuningTask
	err := c.sqlxDB.SelectContext(ctx, &out, `
		SELECT id, start_at, end_at, metadata, status, created_at, updated_at
		FROM fine_tuning_tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, filter.Skip,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list fine-tuning tasks: %w", err)
	}
	return out, nil
}

// UpdateFineTuningTaskStatus advances a task's lifecycle status.
func (c *Client) UpdateFineTuningTaskStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE fine_tuning_tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update fine-tuning task status: %w", err)
	}
	return nil
}

// SaveSessionEventRow inserts one clickstream event audit row.
func (c *Client) SaveSessionEventRow(ctx context.Context, row *SessionEventRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO session_event_audit (session_id, event_id, object_id, event_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, event_id) DO NOTHING`,
		row.SessionID, row.EventID, row.ObjectID, row.EventType, row.Metadata, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session event row: %w", err)
	}
	return nil
}

// BatchSaveSessionEventRows inserts many clickstream event audit rows in
// one statement.
func (c *Client) BatchSaveSessionEventRows(ctx context.Context, rows []*SessionEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
	}
	_, err := c.sqlxDB.NamedExecContext(ctx, `
		INSERT INTO session_event_audit (session_id, event_id, object_id, event_type, metadata, created_at)
		VALUES (:session_id, :event_id, :object_id, :event_type, :metadata, :created_at)
		ON CONFLICT (session_id, event_id) DO NOTHING`, rows)
	if err != nil {
		return fmt.Errorf("failed to batch save session event rows: %w", err)
	}
	return nil
}

// SaveRunMetricRow inserts one experiment-registry metric audit row.
func (c *Client) SaveRunMetricRow(ctx context.Context, row *RunMetricRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO run_metric_audit (run_id, name, value, step, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		row.RunID, row.Name, row.Value, row.Step, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run metric row: %w", err)
	}
	return nil
}

// BatchSaveRunMetricRows inserts many experiment-registry metric audit
// rows in one statement.
func (c *Client) BatchSaveRunMetricRows(ctx context.Context, rows []*RunMetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
	}
	_, err := c.sqlxDB.NamedExecContext(ctx, `
		INSERT INTO run_metric_audit (run_id, name, value, step, created_at)
		VALUES (:run_id, :name, :value, :step, :created_at)`, rows)
	if err != nil {
		return fmt.Errorf("failed to batch save run metric rows: %w", err)
	}
	return nil
}
