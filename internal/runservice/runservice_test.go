package runservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/internal/engine"
	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/flowstore"
	"github.com/helixsec/studio-go/internal/session"
	"github.com/helixsec/studio-go/internal/validator"
	"github.com/helixsec/studio-go/pkg/types"
)

// newTestService builds a service around an engine whose "hold" action
// blocks until its run context is cancelled. No bridge pumps bus
// events into the tracker, so session state only moves when the
// service drives it directly.
func newTestService(t *testing.T) (*Service, *session.Tracker) {
	t.Helper()

	cat := catalog.New(catalog.NewStaticSource([]types.NodeTypeDescriptor{
		{NodeType: "start", Label: "Start", Category: "control"},
		{NodeType: "hold", Label: "Hold", Category: "control"},
	}))
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("catalog refresh failed: %v", err)
	}

	r := engine.NewRegistry()
	r.Register("start", engine.ActionFunc(func(ctx context.Context, inv engine.Invocation) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}))
	r.Register("hold", engine.ActionFunc(func(ctx context.Context, inv engine.Invocation) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)

	tracker := session.NewTracker(nil, nil, nil)
	eng := engine.New(bus, r, nil)
	svc := New(flowstore.NewMemoryStore(), validator.New(cat), eng, tracker, nil, 4, nil)
	return svc, tracker
}

func holdGraph() types.WorkflowGraph {
	return types.WorkflowGraph{
		ID:   "wf-hold",
		Name: "hold",
		Nodes: []types.NodeInstance{
			{ID: "n1", NodeType: "hold"},
		},
	}
}

func TestService_StopForcesSessionTerminal(t *testing.T) {
	svc, tracker := newTestService(t)

	execID, issues, err := svc.RunGraph(context.Background(), holdGraph())
	if err != nil {
		t.Fatalf("RunGraph failed: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("unexpected validation issues: %v", issues)
	}

	rec, err := tracker.Get(execID)
	if err != nil {
		t.Fatalf("session missing after submit: %v", err)
	}
	if rec.Status.Terminal() {
		t.Fatalf("session terminal before stop: %s", rec.Status)
	}

	if err := svc.Stop(execID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The run_stop event never reaches the tracker here; Stop itself
	// must leave the session terminal.
	rec, err = tracker.Get(execID)
	if err != nil {
		t.Fatalf("session missing after stop: %v", err)
	}
	if !rec.Status.Terminal() {
		t.Errorf("expected terminal status after Stop, got %s", rec.Status)
	}
	if rec.Status != types.RunStatusCancelled {
		t.Errorf("expected cancelled, got %s", rec.Status)
	}
}

func TestService_StopUnknownExecution(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Stop("no-such-exec"); err != session.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestService_ValidationGateBlocksRun(t *testing.T) {
	svc, _ := newTestService(t)

	execID, issues, err := svc.RunGraph(context.Background(), types.WorkflowGraph{ID: "wf-empty"})
	if err != nil {
		t.Fatalf("RunGraph failed: %v", err)
	}
	if execID != "" {
		t.Errorf("invalid graph must not start a run, got execution %q", execID)
	}
	if len(issues) != 1 || issues[0].Code != "empty_workflow" {
		t.Errorf("expected empty_workflow issue, got %v", issues)
	}
}

func TestService_ConcurrentRunCap(t *testing.T) {
	svc, _ := newTestService(t)
	svc.maxRuns = 1

	execID, _, err := svc.RunGraph(context.Background(), holdGraph())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	if _, _, err := svc.RunGraph(context.Background(), holdGraph()); err != ErrTooManyRuns {
		t.Errorf("expected ErrTooManyRuns, got %v", err)
	}

	if err := svc.Stop(execID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The engine unregisters the run asynchronously after cancel.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if id, _, err := svc.RunGraph(context.Background(), holdGraph()); err == nil {
			svc.Stop(id)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("run slot never freed after stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
