package db

import (
	"database/sql"
	"time"
)

// Kinds.
const (
	KindEvaluate = "evaluate"
	KindNotebook = "notebook"
)

// Statuses. A run is created queued (async) or running (sync) and ends as
// success or error.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Evaluation is one recorded evaluate or notebook run. Request and Result
// hold JSON documents.
type Evaluation struct {
	ID           string         `db:"id"`
	Kind         string         `db:"kind"`
	Status       string         `db:"status"`
	RubricName   string         `db:"rubric_name"`
	WorkflowName string         `db:"workflow_name"`
	Request      string         `db:"request"`
	Result       sql.NullString `db:"result"`
	TraceRef     sql.NullString `db:"trace_ref"`
	Error        sql.NullString `db:"error"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}
