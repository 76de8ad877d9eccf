package types

import "time"

// Trigger types for recurring schedules.
const (
	TriggerInterval = "interval"
	TriggerDaily    = "daily"
	TriggerWeekly   = "weekly"
)

// ScheduleConfig describes a recurring trigger bound to a saved
// workflow definition. Weekdays is a comma-separated list of 1-7
// (Monday=1), used by the weekly trigger only.
type ScheduleConfig struct {
	TriggerType     string `json:"trigger_type"`
	IntervalSeconds uint64 `json:"interval_seconds,omitempty"`
	Hour            uint   `json:"hour,omitempty"`
	Minute          uint   `json:"minute,omitempty"`
	Second          uint   `json:"second,omitempty"`
	Weekdays        string `json:"weekdays,omitempty"`
}

// ScheduleInfo is the observable state of one active schedule.
type ScheduleInfo struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name"`
	Config       ScheduleConfig `json:"config"`
	IsRunning    bool           `json:"is_running"`
	LastRun      *time.Time     `json:"last_run,omitempty"`
	NextRun      *time.Time     `json:"next_run,omitempty"`
	RunCount     uint64         `json:"run_count"`
}
