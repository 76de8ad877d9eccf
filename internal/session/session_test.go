package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/helixsec/studio-go/pkg/types"
)

type fakeSink struct {
	mu       sync.Mutex
	statuses map[string]types.StepStatus
	clears   int
}

func newFakeSink() *fakeSink {
	return &fakeSink{statuses: make(map[string]types.StepStatus)}
}

func (f *fakeSink) SetNodeStatus(nodeID string, s types.StepStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[nodeID] = s
}

func (f *fakeSink) ClearNodeStatuses() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = make(map[string]types.StepStatus)
	f.clears++
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []types.ExecutionRecord
}

func (f *fakeRecorder) Save(ctx context.Context, rec types.ExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func event(t types.EventType, execID, stepID string, data interface{}) types.Event {
	e := types.Event{Type: t, ExecutionID: execID, StepID: stepID, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, _ := json.Marshal(data)
		e.Data = raw
	}
	return e
}

func TestTracker_LocalRunLifecycle(t *testing.T) {
	sink := newFakeSink()
	rec := &fakeRecorder{}
	tr := NewTracker(nil, sink, rec)

	tr.ExpectRun("exec-1", "wf-1", "asset sweep")

	got, err := tr.Get("exec-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.RunStatusPending {
		t.Errorf("expected pending before run_start, got %s", got.Status)
	}

	// run_start attaches to the expected session; no duplicate.
	tr.HandleEvent(event(types.EventRunStart, "exec-1", "", nil))
	got, _ = tr.Get("exec-1")
	if got.Status != types.RunStatusRunning {
		t.Errorf("expected running, got %s", got.Status)
	}
	if got.WorkflowName != "asset sweep" {
		t.Errorf("expected name kept from ExpectRun, got %q", got.WorkflowName)
	}
	if sink.clears != 1 {
		t.Errorf("run_start should clear markers once, got %d", sink.clears)
	}

	tr.HandleEvent(event(types.EventStepStart, "exec-1", "node-a", nil))
	if s := sink.statuses["node-a"]; s != types.StepStatusRunning {
		t.Errorf("expected running marker, got %s", s)
	}

	result := json.RawMessage(`{"open_ports":[22,80],"raw":"  spacing preserved  "}`)
	tr.HandleEvent(event(types.EventStepComplete, "exec-1", "node-a", types.StepCompleteData{Result: result}))

	got, _ = tr.Get("exec-1")
	if len(got.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(got.Steps))
	}
	step := got.Steps[0]
	if step.Status != types.StepStatusCompleted {
		t.Errorf("expected completed step, got %s", step.Status)
	}
	if string(step.Result) != string(result) {
		t.Errorf("step result must be retained verbatim:\n got %s\nwant %s", step.Result, result)
	}

	tr.HandleEvent(event(types.EventRunComplete, "exec-1", "", nil))
	got, _ = tr.Get("exec-1")
	if got.Status != types.RunStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 persisted record, got %d", rec.count())
	}
}

func TestTracker_ExternalRunStartCreatesSession(t *testing.T) {
	tr := NewTracker(nil, nil, nil)

	e := event(types.EventRunStart, "exec-ext", "", types.RunStartData{WorkflowName: "from elsewhere"})
	e.WorkflowID = "wf-9"
	tr.HandleEvent(e)

	got, err := tr.Get("exec-ext")
	if err != nil {
		t.Fatalf("expected session created for external run: %v", err)
	}
	if got.Status != types.RunStatusRunning {
		t.Errorf("expected running, got %s", got.Status)
	}
	if got.WorkflowID != "wf-9" || got.WorkflowName != "from elsewhere" {
		t.Errorf("expected identity from event, got %+v", got)
	}

	if active, ok := tr.Active(); !ok || active.ExecutionID != "exec-ext" {
		t.Error("external run should become the active session")
	}
}

func TestTracker_TerminalStatusIsMonotonic(t *testing.T) {
	rec := &fakeRecorder{}
	tr := NewTracker(nil, nil, rec)

	tr.ExpectRun("exec-1", "wf-1", "")
	tr.HandleEvent(event(types.EventRunStart, "exec-1", "", nil))
	tr.HandleEvent(event(types.EventRunStop, "exec-1", "", types.RunStopData{Status: types.RunStatusCancelled}))

	got, _ := tr.Get("exec-1")
	if got.Status != types.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// A straggler run_complete must not resurrect the run.
	tr.HandleEvent(event(types.EventRunComplete, "exec-1", "", nil))
	got, _ = tr.Get("exec-1")
	if got.Status != types.RunStatusCancelled {
		t.Errorf("terminal status regressed to %s", got.Status)
	}
	if rec.count() != 1 {
		t.Errorf("record must be persisted exactly once, got %d", rec.count())
	}

	// Step events after terminal are dropped.
	tr.HandleEvent(event(types.EventStepStart, "exec-1", "late-step", nil))
	got, _ = tr.Get("exec-1")
	if len(got.Steps) != 0 {
		t.Errorf("steps must not accrue after terminal, got %d", len(got.Steps))
	}
}

func TestTracker_FailedStep(t *testing.T) {
	tr := NewTracker(nil, nil, nil)
	tr.ExpectRun("exec-1", "wf-1", "")
	tr.HandleEvent(event(types.EventRunStart, "exec-1", "", nil))
	tr.HandleEvent(event(types.EventStepStart, "exec-1", "node-x", nil))
	tr.HandleEvent(event(types.EventStepComplete, "exec-1", "node-x", types.StepCompleteData{
		Error:  "connection refused",
		Failed: true,
	}))

	got, _ := tr.Get("exec-1")
	step := got.Steps[0]
	if step.Status != types.StepStatusFailed {
		t.Errorf("expected failed step, got %s", step.Status)
	}
	if step.ErrorMessage != "connection refused" {
		t.Errorf("expected error message kept, got %q", step.ErrorMessage)
	}
}

func TestTracker_TerminalReleasesMarkers(t *testing.T) {
	cases := []struct {
		name   string
		finish func(tr *Tracker)
	}{
		{"run_complete", func(tr *Tracker) {
			tr.HandleEvent(event(types.EventRunComplete, "exec-1", "", nil))
		}},
		{"run_stop", func(tr *Tracker) {
			tr.HandleEvent(event(types.EventRunStop, "exec-1", "", types.RunStopData{Status: types.RunStatusCancelled}))
		}},
		{"force_stop", func(tr *Tracker) {
			if err := tr.ForceStop("exec-1"); err != nil {
				t.Fatalf("ForceStop failed: %v", err)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := newFakeSink()
			tr := NewTracker(nil, sink, nil)

			tr.ExpectRun("exec-1", "wf-1", "")
			tr.HandleEvent(event(types.EventRunStart, "exec-1", "", nil))
			tr.HandleEvent(event(types.EventStepStart, "exec-1", "node-a", nil))
			if s := sink.statuses["node-a"]; s != types.StepStatusRunning {
				t.Fatalf("expected running marker before terminal, got %s", s)
			}

			// The run ends while node-a never reported completion; its
			// marker must go back to idle with the rest.
			tc.finish(tr)
			if n := len(sink.statuses); n != 0 {
				t.Errorf("%d marker(s) still set after terminal event", n)
			}
		})
	}
}

func TestTracker_ForceStop(t *testing.T) {
	rec := &fakeRecorder{}
	tr := NewTracker(nil, nil, rec)

	tr.ExpectRun("exec-1", "wf-1", "")
	tr.HandleEvent(event(types.EventRunStart, "exec-1", "", nil))

	if err := tr.ForceStop("exec-1"); err != nil {
		t.Fatalf("ForceStop failed: %v", err)
	}
	got, _ := tr.Get("exec-1")
	if got.Status != types.RunStatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	if !got.Status.Terminal() {
		t.Error("force stop must leave a terminal status")
	}
	if rec.count() != 1 {
		t.Errorf("expected persisted record, got %d", rec.count())
	}

	if err := tr.ForceStop("nope"); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTracker_Running(t *testing.T) {
	tr := NewTracker(nil, nil, nil)
	if tr.Running() {
		t.Error("fresh tracker should not be running")
	}

	tr.ExpectRun("exec-1", "wf-1", "")
	if !tr.Running() {
		t.Error("pending execution counts as running")
	}

	tr.HandleEvent(event(types.EventRunComplete, "exec-1", "", nil))
	if tr.Running() {
		t.Error("terminal execution should not count as running")
	}
}

func TestTracker_Progress(t *testing.T) {
	tr := NewTracker(nil, nil, nil)
	tr.ExpectRun("exec-1", "wf-1", "")
	tr.HandleEvent(event(types.EventRunStart, "exec-1", "", nil))
	tr.HandleEvent(event(types.EventProgress, "exec-1", "", types.ProgressData{
		Progress: 50, CompletedSteps: 1, TotalSteps: 2,
	}))

	p, ok := tr.Progress("exec-1")
	if !ok || p.Progress != 50 || p.TotalSteps != 2 {
		t.Errorf("unexpected progress %+v ok=%v", p, ok)
	}
}
