package types

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of an execution.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the current state of a step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Terminal reports whether the step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// StepResult is the execution-time record of one node. StepID equals
// the originating NodeInstance ID; it is the join key between the live
// graph's visual state and backend-pushed events.
type StepResult struct {
	StepID       string          `json:"step_id"`
	Status       StepStatus      `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"` // retained verbatim
	ErrorMessage string          `json:"error_message,omitempty"`
}

// ExecutionRecord is one run of a submitted graph.
type ExecutionRecord struct {
	ExecutionID  string       `json:"execution_id"`
	WorkflowID   string       `json:"workflow_id"`
	WorkflowName string       `json:"workflow_name,omitempty"`
	Status       RunStatus    `json:"status"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	DurationMs   int64        `json:"duration_ms,omitempty"`
	Steps        []StepResult `json:"steps,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// ExecutionSummary is a lightweight representation for listing.
type ExecutionSummary struct {
	ExecutionID  string     `json:"execution_id"`
	WorkflowID   string     `json:"workflow_id"`
	WorkflowName string     `json:"workflow_name,omitempty"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms,omitempty"`
}

// Summary trims a record down to its listing form.
func (r *ExecutionRecord) Summary() ExecutionSummary {
	return ExecutionSummary{
		ExecutionID:  r.ExecutionID,
		WorkflowID:   r.WorkflowID,
		WorkflowName: r.WorkflowName,
		Status:       r.Status,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
		DurationMs:   r.DurationMs,
	}
}
