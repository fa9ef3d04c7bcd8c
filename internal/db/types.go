package db

import (
	"time"

	"github.com/google/uuid"
)

// Project status values. No other string is ever persisted to the status column.
const (
	StatusInitializing = "INITIALIZING"
	StatusIdle         = "IDLE"
	StatusRunning      = "RUNNING"
	StatusBlocked      = "BLOCKED"
)

// Run result status values stored inside last_result.
const (
	ResultCompleted = "COMPLETED"
	ResultBlocked   = "BLOCKED"
	ResultFailed    = "FAILED"
)

// Project represents a browser-agent project record
type Project struct {
	ID              uuid.UUID      `json:"id"`
	Status          string         `json:"status"`
	SystemPrompt    string         `json:"system_prompt"`
	OutputSchema    map[string]any `json:"output_schema,omitempty"`
	AuthCookies     map[string]any `json:"auth_cookies,omitempty"`
	ActiveSessionID *string        `json:"active_session_id"`
	LiveStreamURL   *string        `json:"live_stream_url"`
	LastResult      *RunResult     `json:"last_result"`
	LastRunAt       *time.Time     `json:"last_run_at"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RunResult captures the outcome of the most recent run. It is overwritten
// in place on every run, never appended.
type RunResult struct {
	Status        string     `json:"status"`
	Output        string     `json:"output,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	LiveStreamURL string     `json:"live_stream_url,omitempty"`
	Error         string     `json:"error,omitempty"`
	SchemaValid   *bool      `json:"schema_valid,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Task status values for the agent_tasks queue table.
const (
	TaskQueued  = "queued"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Task represents one durable unit of coordinator work
type Task struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	LastError   *string   `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
