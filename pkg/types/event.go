package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of event on the execution stream.
type EventType string

const (
	EventRunStart          EventType = "run_start"
	EventStepStart         EventType = "step_start"
	EventStepComplete      EventType = "step_complete"
	EventRunComplete       EventType = "run_complete"
	EventRunStop           EventType = "run_stop"
	EventScheduleTriggered EventType = "schedule_triggered"
	EventProgress          EventType = "progress"
)

// Event is a single event on an execution's stream.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	StepID      string          `json:"step_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// RunStartData is the payload of a run_start event.
type RunStartData struct {
	WorkflowName string `json:"workflow_name,omitempty"`
	Version      string `json:"version,omitempty"`
	Status       string `json:"status,omitempty"`
}

// StepCompleteData is the payload of a step_complete event. Result is
// carried verbatim; the client must not summarize or truncate it.
type StepCompleteData struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Failed bool            `json:"failed,omitempty"`
}

// RunStopData is the payload of a run_stop event.
type RunStopData struct {
	Status RunStatus `json:"status"`
}

// ProgressData is the payload of a progress event.
type ProgressData struct {
	Progress       int `json:"progress"`
	CompletedSteps int `json:"completed_steps"`
	TotalSteps     int `json:"total_steps"`
}

// ToSSE formats the event for Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
