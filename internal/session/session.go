// Package session tracks live execution state derived from the event
// stream and feeds visual markers back to the canvas.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/helixsec/studio-go/pkg/types"
)

// ErrSessionNotFound is returned when an execution id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// StatusSink receives per-node visual markers. The graph model
// implements it.
type StatusSink interface {
	SetNodeStatus(nodeID string, status types.StepStatus)
	ClearNodeStatuses()
}

// Recorder persists finished executions. The history store implements
// it.
type Recorder interface {
	Save(ctx context.Context, rec types.ExecutionRecord) error
}

// Tracker maintains one session per execution id. Sessions are created
// either locally via ExpectRun before submission, or on the fly when a
// run_start event arrives for an execution initiated elsewhere.
type Tracker struct {
	logger   *slog.Logger
	sink     StatusSink
	recorder Recorder

	mu       sync.Mutex
	sessions map[string]*types.ExecutionRecord
	progress map[string]types.ProgressData
	active   string
}

// NewTracker creates a tracker. sink and recorder may be nil.
func NewTracker(logger *slog.Logger, sink StatusSink, recorder Recorder) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		logger:   logger,
		sink:     sink,
		recorder: recorder,
		sessions: make(map[string]*types.ExecutionRecord),
		progress: make(map[string]types.ProgressData),
	}
}

// ExpectRun registers a locally initiated execution before submission,
// so the arriving run_start event attaches to this session instead of
// creating a duplicate.
func (t *Tracker) ExpectRun(executionID, workflowID, workflowName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[executionID]; exists {
		return
	}
	t.sessions[executionID] = &types.ExecutionRecord{
		ExecutionID:  executionID,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       types.RunStatusPending,
		StartedAt:    time.Now().UTC(),
	}
	t.active = executionID
}

// HandleEvent applies one event to the tracked state. Events for
// executions already in a terminal state are ignored; a terminal
// status never regresses.
func (t *Tracker) HandleEvent(e types.Event) {
	switch e.Type {
	case types.EventRunStart:
		t.onRunStart(e)
	case types.EventStepStart:
		t.onStepStart(e)
	case types.EventStepComplete:
		t.onStepComplete(e)
	case types.EventProgress:
		t.onProgress(e)
	case types.EventRunComplete:
		t.finish(e.ExecutionID, types.RunStatusCompleted, "", e.Timestamp)
	case types.EventRunStop:
		var data types.RunStopData
		status := types.RunStatusCancelled
		if len(e.Data) > 0 {
			if err := json.Unmarshal(e.Data, &data); err == nil && data.Status.Terminal() {
				status = data.Status
			}
		}
		t.finish(e.ExecutionID, status, "", e.Timestamp)
	}
}

func (t *Tracker) onRunStart(e types.Event) {
	t.mu.Lock()

	rec, exists := t.sessions[e.ExecutionID]
	if exists && rec.Status.Terminal() {
		t.mu.Unlock()
		t.logger.Debug("ignoring run_start for terminal execution", "execution_id", e.ExecutionID)
		return
	}

	if !exists {
		rec = &types.ExecutionRecord{
			ExecutionID: e.ExecutionID,
			WorkflowID:  e.WorkflowID,
			StartedAt:   stampOr(e.Timestamp),
		}
		var data types.RunStartData
		if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil {
			rec.WorkflowName = data.WorkflowName
		}
		t.sessions[e.ExecutionID] = rec
	}
	rec.Status = types.RunStatusRunning
	if !e.Timestamp.IsZero() {
		rec.StartedAt = e.Timestamp
	}
	t.active = e.ExecutionID
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink.ClearNodeStatuses()
	}
}

func (t *Tracker) onStepStart(e types.Event) {
	t.mu.Lock()
	rec, ok := t.liveLocked(e.ExecutionID)
	if !ok {
		t.mu.Unlock()
		return
	}

	step := findStep(rec, e.StepID)
	if step == nil {
		rec.Steps = append(rec.Steps, types.StepResult{StepID: e.StepID})
		step = &rec.Steps[len(rec.Steps)-1]
	}
	if step.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	step.Status = types.StepStatusRunning
	ts := stampOr(e.Timestamp)
	step.StartedAt = &ts
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink.SetNodeStatus(e.StepID, types.StepStatusRunning)
	}
}

func (t *Tracker) onStepComplete(e types.Event) {
	t.mu.Lock()
	rec, ok := t.liveLocked(e.ExecutionID)
	if !ok {
		t.mu.Unlock()
		return
	}

	step := findStep(rec, e.StepID)
	if step == nil {
		rec.Steps = append(rec.Steps, types.StepResult{StepID: e.StepID})
		step = &rec.Steps[len(rec.Steps)-1]
	}
	if step.Status.Terminal() {
		t.mu.Unlock()
		return
	}

	var data types.StepCompleteData
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &data); err != nil {
			t.logger.Warn("malformed step_complete payload",
				"execution_id", e.ExecutionID, "step_id", e.StepID, "error", err)
		}
	}

	status := types.StepStatusCompleted
	if data.Failed || data.Error != "" {
		status = types.StepStatusFailed
		step.ErrorMessage = data.Error
	}
	step.Status = status
	// The result payload is retained byte for byte. Findings must
	// reach the analyst exactly as the tool produced them.
	step.Result = append(json.RawMessage(nil), data.Result...)

	ts := stampOr(e.Timestamp)
	step.CompletedAt = &ts
	if step.StartedAt != nil {
		step.DurationMs = ts.Sub(*step.StartedAt).Milliseconds()
	}
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink.SetNodeStatus(e.StepID, status)
	}
}

func (t *Tracker) onProgress(e types.Event) {
	var data types.ProgressData
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &data) != nil {
		return
	}
	t.mu.Lock()
	if _, ok := t.liveLocked(e.ExecutionID); ok {
		t.progress[e.ExecutionID] = data
	}
	t.mu.Unlock()
}

// finish drives an execution to a terminal status and persists the
// record. Already-terminal sessions are left untouched.
func (t *Tracker) finish(executionID string, status types.RunStatus, errMsg string, at time.Time) {
	t.mu.Lock()
	rec, exists := t.sessions[executionID]
	if !exists || rec.Status.Terminal() {
		t.mu.Unlock()
		return
	}

	rec.Status = status
	if errMsg != "" {
		rec.Error = errMsg
	}
	ts := stampOr(at)
	rec.CompletedAt = &ts
	rec.DurationMs = ts.Sub(rec.StartedAt).Milliseconds()
	snapshot := cloneRecord(rec)
	recorder := t.recorder
	sink := t.sink
	t.mu.Unlock()

	// A step that got step_start but never step_complete must not stay
	// lit on the canvas after the run ends.
	if sink != nil {
		sink.ClearNodeStatuses()
	}

	if recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Save(ctx, snapshot); err != nil {
			t.logger.Error("failed to record execution",
				"execution_id", executionID, "error", err)
		}
	}
	t.logger.Info("execution finished",
		"execution_id", executionID,
		"status", string(status),
		"duration_ms", snapshot.DurationMs)
}

// ForceStop marks an execution cancelled regardless of engine state.
// Used when a stop request cannot be delivered; the session must not
// stay running forever.
func (t *Tracker) ForceStop(executionID string) error {
	t.mu.Lock()
	_, exists := t.sessions[executionID]
	t.mu.Unlock()
	if !exists {
		return ErrSessionNotFound
	}
	t.finish(executionID, types.RunStatusCancelled, "stopped by operator", time.Now().UTC())
	return nil
}

// Get returns a copy of the session for an execution id.
func (t *Tracker) Get(executionID string) (types.ExecutionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.sessions[executionID]
	if !ok {
		return types.ExecutionRecord{}, ErrSessionNotFound
	}
	return cloneRecord(rec), nil
}

// Active returns the execution currently shown by the monitor panel.
func (t *Tracker) Active() (types.ExecutionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.sessions[t.active]
	if !ok {
		return types.ExecutionRecord{}, false
	}
	return cloneRecord(rec), true
}

// Progress returns the latest progress payload for an execution.
func (t *Tracker) Progress(executionID string) (types.ProgressData, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.progress[executionID]
	return p, ok
}

// Running reports whether any tracked execution is not yet terminal.
// The autosave controller uses this as its run guard.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.sessions {
		if !rec.Status.Terminal() {
			return true
		}
	}
	return false
}

// liveLocked returns the session unless it is unknown or terminal.
func (t *Tracker) liveLocked(executionID string) (*types.ExecutionRecord, bool) {
	rec, ok := t.sessions[executionID]
	if !ok || rec.Status.Terminal() {
		return nil, false
	}
	return rec, true
}

func findStep(rec *types.ExecutionRecord, stepID string) *types.StepResult {
	for i := range rec.Steps {
		if rec.Steps[i].StepID == stepID {
			return &rec.Steps[i]
		}
	}
	return nil
}

func stampOr(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts
}

func cloneRecord(rec *types.ExecutionRecord) types.ExecutionRecord {
	out := *rec
	out.Steps = make([]types.StepResult, len(rec.Steps))
	for i, s := range rec.Steps {
		cs := s
		cs.Result = append(json.RawMessage(nil), s.Result...)
		out.Steps[i] = cs
	}
	return out
}
