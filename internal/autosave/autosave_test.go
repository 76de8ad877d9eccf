package autosave

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/internal/graph"
	"github.com/helixsec/studio-go/pkg/types"
)

type fakeSaver struct {
	mu    sync.Mutex
	saves []types.WorkflowGraph
	err   error
}

func (f *fakeSaver) SaveSnapshot(ctx context.Context, g types.WorkflowGraph) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves = append(f.saves, g)
	return nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func (f *fakeSaver) last() types.WorkflowGraph {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves[len(f.saves)-1]
}

type fakeGuard struct{ running atomic.Bool }

func (f *fakeGuard) Running() bool { return f.running.Load() }

func newTestModel(t *testing.T) (*graph.Model, types.NodeTypeDescriptor) {
	t.Helper()
	c := catalog.New(catalog.NewBuiltinSource())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	desc, err := c.Get("start")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	m := graph.NewModel()
	m.SetName("sweep")
	m.MarkClean()
	return m, desc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestController_DebouncesAndCoalesces(t *testing.T) {
	m, desc := newTestModel(t)
	saver := &fakeSaver{}
	c := New(m, saver, nil, nil, WithDelay(30*time.Millisecond))
	defer c.Close()

	// A burst of edits inside the window produces a single save.
	m.AddNode(desc, types.Position{X: 1})
	m.AddNode(desc, types.Position{X: 2})
	m.AddNode(desc, types.Position{X: 3})

	if !waitFor(t, time.Second, func() bool { return saver.count() == 1 }) {
		t.Fatalf("expected exactly 1 save, got %d", saver.count())
	}
	if got := saver.last(); len(got.Nodes) != 3 {
		t.Errorf("save should carry the latest snapshot, got %d nodes", len(got.Nodes))
	}
	if m.Dirty() {
		t.Error("model should be clean after autosave")
	}

	// Quiet period with no edits: no further saves.
	time.Sleep(80 * time.Millisecond)
	if saver.count() != 1 {
		t.Errorf("expected no extra saves, got %d", saver.count())
	}
}

func TestController_SkipsUnnamedWorkflow(t *testing.T) {
	m, desc := newTestModel(t)
	m.SetName("")
	m.MarkClean()
	saver := &fakeSaver{}
	c := New(m, saver, nil, nil, WithDelay(20*time.Millisecond))
	defer c.Close()

	m.AddNode(desc, types.Position{})
	time.Sleep(100 * time.Millisecond)

	if saver.count() != 0 {
		t.Fatalf("unnamed workflow must not autosave, got %d saves", saver.count())
	}
	if !m.Dirty() {
		t.Error("model must stay dirty after a skipped save")
	}

	// Naming the workflow is itself an edit; the pending work saves.
	m.SetName("now named")
	if !waitFor(t, time.Second, func() bool { return saver.count() == 1 }) {
		t.Errorf("expected save after naming, got %d", saver.count())
	}
}

func TestController_SkipsWhileRunning(t *testing.T) {
	m, desc := newTestModel(t)
	saver := &fakeSaver{}
	guard := &fakeGuard{}
	guard.running.Store(true)
	c := New(m, saver, guard, nil, WithDelay(20*time.Millisecond))
	defer c.Close()

	m.AddNode(desc, types.Position{})
	time.Sleep(100 * time.Millisecond)
	if saver.count() != 0 {
		t.Fatalf("autosave must not fire during a run, got %d", saver.count())
	}

	// Run finished; the next edit flushes the pending state.
	guard.running.Store(false)
	m.AddNode(desc, types.Position{})
	if !waitFor(t, time.Second, func() bool { return saver.count() == 1 }) {
		t.Errorf("expected save after run ended, got %d", saver.count())
	}
}

func TestController_FailureKeepsDirty(t *testing.T) {
	m, desc := newTestModel(t)
	saver := &fakeSaver{err: errors.New("disk full")}
	c := New(m, saver, nil, nil, WithDelay(20*time.Millisecond))
	defer c.Close()

	m.AddNode(desc, types.Position{})
	time.Sleep(100 * time.Millisecond)

	if !m.Dirty() {
		t.Error("model must stay dirty after a failed save")
	}

	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()

	c.Flush()
	if saver.count() != 1 {
		t.Errorf("flush should retry the save, got %d", saver.count())
	}
	if m.Dirty() {
		t.Error("model should be clean after successful retry")
	}
}

func TestController_CloseFlushesPendingWork(t *testing.T) {
	m, desc := newTestModel(t)
	saver := &fakeSaver{}
	c := New(m, saver, nil, nil, WithDelay(10*time.Second)) // never fires on its own

	m.AddNode(desc, types.Position{})
	c.Close()
	c.Close() // idempotent

	if saver.count() != 1 {
		t.Fatalf("close must flush pending work, got %d saves", saver.count())
	}

	// Edits after close are ignored.
	m.AddNode(desc, types.Position{})
	time.Sleep(50 * time.Millisecond)
	if saver.count() != 1 {
		t.Errorf("no saves after close, got %d", saver.count())
	}
}
