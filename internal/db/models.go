package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// FineTuningTask is the Task API's persisted record (spec §6):
// POST /fine-tuning/create { start_at, end_at, metadata } -> id,
// GET /fine-tuning/get/{id}, GET /fine-tuning/get?skip&limit.
// Out of scope: the worker that actually runs the search/driver in response
// to this task is thin glue over C7; only the record and its lifecycle
// status live in the core.
type FineTuningTask struct {
	ID        uuid.UUID `db:"id" json:"id"`
	StartAt   time.Time `db:"start_at" json:"start_at"`
	EndAt     time.Time `db:"end_at" json:"end_at"`
	Metadata  JSONB     `db:"metadata" json:"metadata"`
	Status    string    `db:"status" json:"status"` // queued, running, finished, failed
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TaskFilter provides pagination for the Task API listing endpoint.
type TaskFilter struct {
	Skip  int
	Limit int
}

// SessionEventRow is the async-write shape for one clickstream event,
// mirrored from internal/clickstream's domain type so the write queue
// doesn't need to import that package.
type SessionEventRow struct {
	SessionID string    `db:"session_id"`
	EventID   string    `db:"event_id"`
	ObjectID  string    `db:"object_id"`
	EventType string    `db:"event_type"`
	CreatedAt time.Time `db:"created_at"`
	Metadata  JSONB     `db:"metadata"`
}

// RunMetricRow is the async-write shape for one experiment-registry metric
// observation (internal/registry's save_metric, §4.9).
type RunMetricRow struct {
	RunID     string    `db:"run_id"`
	Name      string    `db:"name"`
	Value     float64   `db:"value"`
	Step      int       `db:"step"`
	CreatedAt time.Time `db:"created_at"`
}

// RunParamRow is the async-write shape for one experiment-registry
// hyperparameter log entry.
type RunParamRow struct {
	RunID string
	Name  string
	Value string
}
