package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/internal/config"
	"github.com/helixsec/studio-go/internal/engine"
	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/flowstore"
	"github.com/helixsec/studio-go/internal/history"
	"github.com/helixsec/studio-go/internal/prefs"
	"github.com/helixsec/studio-go/internal/runservice"
	"github.com/helixsec/studio-go/internal/schedule"
	"github.com/helixsec/studio-go/internal/session"
	"github.com/helixsec/studio-go/internal/validator"
	"github.com/helixsec/studio-go/pkg/types"
)

type testEnv struct {
	server    *httptest.Server
	flows     flowstore.Store
	histories history.Store
	tracker   *session.Tracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)

	cat := catalog.New(catalog.NewBuiltinSource())
	if err := cat.Refresh(ctx); err != nil {
		t.Fatalf("catalog refresh failed: %v", err)
	}

	flows := flowstore.NewMemoryStore()
	histories := history.NewMemoryStore()
	tracker := session.NewTracker(nil, nil, histories)
	bridge := session.NewBridge(bus, tracker)
	go bridge.Run(ctx)

	v := validator.New(cat)
	eng := engine.New(bus, nil, nil)
	runs := runservice.New(flows, v, eng, tracker, nil, 4, nil)
	scheds := schedule.NewManager(runs, bus, nil)
	t.Cleanup(scheds.Close)

	p, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.json"), nil)
	if err != nil {
		t.Fatalf("prefs open failed: %v", err)
	}

	h := NewHandlers(HandlerDeps{
		Flows:     flows,
		Histories: histories,
		Catalog:   cat,
		Validator: v,
		Runs:      runs,
		Tracker:   tracker,
		Schedules: scheds,
		Bus:       bus,
		Prefs:     p,
		Config: &config.Config{
			CORSOrigins:    []string{"*"},
			RateLimitRPS:   1000,
			RateLimitBurst: 1000,
		},
	})

	srv := httptest.NewServer(NewServer(h).Router())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, flows: flows, histories: histories, tracker: tracker}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func testGraph(name string) types.WorkflowGraph {
	return types.WorkflowGraph{
		ID:      "wf-" + strings.ReplaceAll(name, " ", "-"),
		Name:    name,
		Version: "1.0",
		Nodes: []types.NodeInstance{
			{
				ID:          "n1",
				NodeType:    "start",
				OutputPorts: []types.PortDef{{ID: "out", PortType: "json"}},
			},
			{
				ID:          "n2",
				NodeType:    "notify",
				InputPorts:  []types.PortDef{{ID: "in", PortType: "json"}},
				OutputPorts: []types.PortDef{{ID: "out", PortType: "json"}},
			},
		},
		Edges: []types.EdgeDef{
			{ID: "e1", FromNode: "n1", FromPort: "out", ToNode: "n2", ToPort: "in"},
		},
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/healthz", "/ready"} {
		resp := env.do(t, "GET", path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned %d", path, resp.StatusCode)
		}
	}
}

func TestWorkflowCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/v1/workflows", flowstore.SaveRequest{
		Graph: testGraph("recon sweep"),
		Tags:  []string{"recon"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save returned %d", resp.StatusCode)
	}
	var saved flowstore.SavedWorkflow
	decode(t, resp, &saved)
	if saved.ID != "wf-recon-sweep" || saved.Name != "recon sweep" {
		t.Errorf("unexpected saved workflow %+v", saved)
	}

	resp = env.do(t, "GET", "/api/v1/workflows/"+saved.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get returned %d", resp.StatusCode)
	}
	resp.Body.Close()

	var listing struct {
		Workflows []flowstore.SavedWorkflow `json:"workflows"`
	}
	resp = env.do(t, "GET", "/api/v1/workflows?tag=recon", nil)
	decode(t, resp, &listing)
	if len(listing.Workflows) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(listing.Workflows))
	}

	resp = env.do(t, "DELETE", "/api/v1/workflows/"+saved.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete returned %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", "/api/v1/workflows/"+saved.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete returned %d", resp.StatusCode)
	}
}

func TestWorkflowExportImport(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/v1/workflows", flowstore.SaveRequest{
		Graph:       testGraph("export me"),
		Description: "round trip",
	})
	var saved flowstore.SavedWorkflow
	decode(t, resp, &saved)

	resp = env.do(t, "GET", "/api/v1/workflows/"+saved.ID+"/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export returned %d", resp.StatusCode)
	}
	var doc map[string]json.RawMessage
	decode(t, resp, &doc)
	if _, ok := doc["graph"]; !ok {
		t.Fatal("export missing graph envelope")
	}

	body, _ := json.Marshal(doc)
	req, _ := http.NewRequest("POST", env.server.URL+"/api/v1/workflows/import", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp2, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("import returned %d", resp2.StatusCode)
	}
	var imported flowstore.SavedWorkflow
	decode(t, resp2, &imported)
	if imported.ID == saved.ID {
		t.Error("import must mint a fresh workflow id")
	}
	if imported.Description != "round trip" {
		t.Errorf("import dropped description, got %q", imported.Description)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	var listing struct {
		NodeTypes []types.NodeTypeDescriptor `json:"node_types"`
	}
	resp := env.do(t, "GET", "/api/v1/catalog", nil)
	decode(t, resp, &listing)
	if len(listing.NodeTypes) == 0 {
		t.Fatal("expected builtin node types")
	}

	resp = env.do(t, "POST", "/api/v1/catalog/refresh", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("refresh returned %d", resp.StatusCode)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	var result struct {
		Valid  bool                    `json:"valid"`
		Issues []types.ValidationIssue `json:"issues"`
	}

	resp := env.do(t, "POST", "/api/v1/validate", types.WorkflowGraph{ID: "empty", Name: "empty"})
	decode(t, resp, &result)
	if result.Valid {
		t.Error("empty graph must not validate")
	}
	if len(result.Issues) == 0 || result.Issues[0].Code != "empty_workflow" {
		t.Errorf("expected empty_workflow issue, got %+v", result.Issues)
	}

	resp = env.do(t, "POST", "/api/v1/validate", testGraph("ok"))
	decode(t, resp, &result)
	if !result.Valid {
		t.Errorf("expected valid graph, issues: %+v", result.Issues)
	}
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t)

	g := testGraph("live run")
	resp := env.do(t, "POST", "/api/v1/runs", RunRequest{Graph: &g})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("run returned %d", resp.StatusCode)
	}
	var started struct {
		ExecutionID string `json:"execution_id"`
	}
	decode(t, resp, &started)
	if started.ExecutionID == "" {
		t.Fatal("expected execution id")
	}

	// The run is tiny; wait for the tracker to see it finish.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := env.tracker.Get(started.ExecutionID)
		if err == nil && rec.Status.Terminal() {
			if rec.Status != types.RunStatusCompleted {
				t.Fatalf("run finished %s: %s", rec.Status, rec.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = env.do(t, "GET", "/api/v1/runs/"+started.ExecutionID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get run returned %d", resp.StatusCode)
	}
}

func TestStartRunBlockedByValidation(t *testing.T) {
	env := newTestEnv(t)

	g := types.WorkflowGraph{ID: "bad", Name: "bad"} // no nodes
	resp := env.do(t, "POST", "/api/v1/runs", RunRequest{Graph: &g})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error != ErrCodeUnprocessable {
		t.Errorf("expected %s, got %s", ErrCodeUnprocessable, errResp.Error)
	}
}

func TestStopUnknownRun(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/v1/runs/no-such-run/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestExecutionHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := env.histories.Save(ctx, types.ExecutionRecord{
			ExecutionID:  fmt.Sprintf("exec-%d", i),
			WorkflowID:   "wf-1",
			WorkflowName: "port sweep",
			Status:       types.RunStatusCompleted,
			StartedAt:    time.Now().Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
	}

	var page history.Page
	resp := env.do(t, "GET", "/api/v1/executions?page=1&page_size=2", nil)
	decode(t, resp, &page)
	if page.Total != 3 || len(page.Data) != 2 {
		t.Fatalf("expected total 3 page of 2, got total %d len %d", page.Total, len(page.Data))
	}
	if page.Data[0].ExecutionID != "exec-2" {
		t.Errorf("expected newest first, got %s", page.Data[0].ExecutionID)
	}

	resp = env.do(t, "GET", "/api/v1/executions/exec-0", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get execution returned %d", resp.StatusCode)
	}

	resp = env.do(t, "DELETE", "/api/v1/executions/exec-0", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete execution returned %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", "/api/v1/executions/exec-0", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/v1/workflows", flowstore.SaveRequest{Graph: testGraph("nightly")})
	var saved flowstore.SavedWorkflow
	decode(t, resp, &saved)

	resp = env.do(t, "PUT", "/api/v1/schedules/"+saved.ID, types.ScheduleConfig{
		TriggerType: types.TriggerInterval,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero interval must be rejected, got %d", resp.StatusCode)
	}

	resp = env.do(t, "PUT", "/api/v1/schedules/"+saved.ID, types.ScheduleConfig{
		TriggerType:     types.TriggerInterval,
		IntervalSeconds: 3600,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start schedule returned %d", resp.StatusCode)
	}
	var info types.ScheduleInfo
	decode(t, resp, &info)
	if !info.IsRunning || info.WorkflowName != "nightly" {
		t.Errorf("unexpected schedule info %+v", info)
	}

	var listing struct {
		Schedules []types.ScheduleInfo `json:"schedules"`
	}
	resp = env.do(t, "GET", "/api/v1/schedules", nil)
	decode(t, resp, &listing)
	if len(listing.Schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(listing.Schedules))
	}

	resp = env.do(t, "DELETE", "/api/v1/schedules/"+saved.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("stop schedule returned %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", "/api/v1/schedules/"+saved.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after stop, got %d", resp.StatusCode)
	}
}

func TestPrefsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/v1/prefs/favorites/wf-1", nil)
	var toggled struct {
		Favorite bool `json:"favorite"`
	}
	decode(t, resp, &toggled)
	if !toggled.Favorite {
		t.Error("first toggle should star")
	}

	size := 50
	opened := "wf-1"
	resp = env.do(t, "PUT", "/api/v1/prefs", map[string]interface{}{
		"page_size":   size,
		"last_opened": opened,
	})
	var got struct {
		Favorites  []string `json:"favorites"`
		PageSize   int      `json:"page_size"`
		LastOpened string   `json:"last_opened"`
	}
	decode(t, resp, &got)
	if len(got.Favorites) != 1 || got.PageSize != 50 || got.LastOpened != "wf-1" {
		t.Errorf("unexpected prefs %+v", got)
	}
}

func TestSSEStream(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest("GET", env.server.URL+"/api/v1/events", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// Kick off a run so the stream carries events.
	g := testGraph("sse run")
	runResp := env.do(t, "POST", "/api/v1/runs", RunRequest{Graph: &g})
	runResp.Body.Close()

	buf := make([]byte, 4096)
	var collected []byte
	for {
		n, err := resp.Body.Read(buf)
		collected = append(collected, buf[:n]...)
		if bytes.Contains(collected, []byte("event: run_complete")) {
			break
		}
		if err != nil {
			t.Fatalf("stream ended early: %v\n%s", err, collected)
		}
	}
	if !bytes.Contains(collected, []byte("event: run_start")) {
		t.Error("stream missing run_start event")
	}
}
