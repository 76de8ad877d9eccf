package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/pkg/types"
)

// Common errors returned by the engine.
var (
	ErrCyclicGraph      = errors.New("graph contains a cycle")
	ErrExecutionUnknown = errors.New("execution not found")
)

// Engine executes workflow graphs locally, one goroutine per run.
// All observable state flows through the event bus; the engine keeps
// only enough bookkeeping to cancel in-flight runs.
type Engine struct {
	bus      *eventbus.Bus
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// New creates an engine.
func New(bus *eventbus.Bus, registry *Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry(logger)
	}
	return &Engine{
		bus:      bus,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer("studio/engine"),
		runs:     make(map[string]context.CancelFunc),
	}
}

// Run starts executing a graph and returns the execution id. The
// graph should be validated first; the engine still refuses cyclic
// graphs since it cannot order them.
func (e *Engine) Run(ctx context.Context, g types.WorkflowGraph) (string, error) {
	g.DedupEdges()
	order, err := topoOrder(g)
	if err != nil {
		return "", err
	}

	executionID := uuid.New().String()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.runs[executionID] = cancel
	e.mu.Unlock()

	go e.execute(runCtx, executionID, g, order)
	return executionID, nil
}

// ActiveRuns returns the number of in-flight runs.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Stop cancels an in-flight run. The run publishes its own run_stop.
func (e *Engine) Stop(executionID string) error {
	e.mu.Lock()
	cancel, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return ErrExecutionUnknown
	}
	cancel()
	return nil
}

func (e *Engine) execute(ctx context.Context, executionID string, g types.WorkflowGraph, order []string) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, executionID)
		e.mu.Unlock()
	}()

	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", g.ID),
		attribute.String("workflow.name", g.Name),
		attribute.String("execution.id", executionID),
		attribute.Int("workflow.nodes", len(g.Nodes)),
	))
	defer span.End()

	startData, _ := json.Marshal(types.RunStartData{
		WorkflowName: g.Name,
		Version:      g.Version,
		Status:       string(types.RunStatusRunning),
	})
	e.bus.Publish(types.Event{
		Type:        types.EventRunStart,
		WorkflowID:  g.ID,
		ExecutionID: executionID,
		Data:        startData,
	})

	results := make(map[string]json.RawMessage)
	skipped := make(map[string]bool)
	// Output ports deactivated by branch decisions, keyed by
	// "nodeID\x00portID".
	inactivePorts := make(map[string]bool)

	completed := 0
	for _, nodeID := range order {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			e.finishStopped(executionID, g.ID)
			return
		}

		node := g.Node(nodeID)
		inputs, hasLiveInput, hasInbound := gatherInputs(g, nodeID, results, skipped, inactivePorts)
		if hasInbound && !hasLiveInput {
			skipped[nodeID] = true
			continue
		}

		e.bus.Publish(types.Event{
			Type:        types.EventStepStart,
			WorkflowID:  g.ID,
			ExecutionID: executionID,
			StepID:      nodeID,
		})

		stepCtx, stepSpan := e.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
			attribute.String("step.id", nodeID),
			attribute.String("step.type", node.NodeType),
		))
		result, err := e.runNode(stepCtx, *node, inputs)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
			stepSpan.End()
			if ctx.Err() != nil {
				span.SetStatus(codes.Error, "cancelled")
				e.finishStopped(executionID, g.ID)
				return
			}
			span.SetStatus(codes.Error, "step failed")
			e.publishStepComplete(executionID, g.ID, nodeID, nil, err)
			e.finishFailed(executionID, g.ID, fmt.Sprintf("step %s: %v", nodeID, err))
			return
		}
		stepSpan.End()

		results[nodeID] = result
		completed++
		e.publishStepComplete(executionID, g.ID, nodeID, result, nil)
		e.publishProgress(executionID, g.ID, completed, len(order))

		if node.NodeType == "branch" {
			var br branchResult
			if json.Unmarshal(result, &br) == nil {
				taken := "false"
				if br.Condition {
					taken = "true"
				}
				for _, p := range node.OutputPorts {
					if p.ID != taken {
						inactivePorts[nodeID+"\x00"+p.ID] = true
					}
				}
			}
		}
	}

	e.bus.Publish(types.Event{
		Type:        types.EventRunComplete,
		WorkflowID:  g.ID,
		ExecutionID: executionID,
	})
	e.logger.Info("run completed",
		"execution_id", executionID,
		"workflow_id", g.ID,
		"steps", completed)
}

func (e *Engine) runNode(ctx context.Context, node types.NodeInstance, inputs map[string]json.RawMessage) (json.RawMessage, error) {
	action, err := e.registry.Get(node.NodeType)
	if err != nil {
		return nil, err
	}
	return action.Execute(ctx, Invocation{Node: node, Inputs: inputs})
}

func (e *Engine) publishStepComplete(executionID, workflowID, stepID string, result json.RawMessage, stepErr error) {
	data := types.StepCompleteData{Result: result}
	if stepErr != nil {
		data.Error = stepErr.Error()
		data.Failed = true
	}
	raw, _ := json.Marshal(data)
	e.bus.Publish(types.Event{
		Type:        types.EventStepComplete,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		StepID:      stepID,
		Data:        raw,
	})
}

func (e *Engine) publishProgress(executionID, workflowID string, completed, total int) {
	pct := 0
	if total > 0 {
		pct = completed * 100 / total
	}
	raw, _ := json.Marshal(types.ProgressData{
		Progress:       pct,
		CompletedSteps: completed,
		TotalSteps:     total,
	})
	e.bus.Publish(types.Event{
		Type:        types.EventProgress,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Data:        raw,
	})
}

func (e *Engine) finishFailed(executionID, workflowID, msg string) {
	raw, _ := json.Marshal(types.RunStopData{Status: types.RunStatusFailed})
	e.bus.Publish(types.Event{
		Type:        types.EventRunStop,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Data:        raw,
	})
	e.logger.Warn("run failed", "execution_id", executionID, "error", msg)
}

func (e *Engine) finishStopped(executionID, workflowID string) {
	raw, _ := json.Marshal(types.RunStopData{Status: types.RunStatusCancelled})
	e.bus.Publish(types.Event{
		Type:        types.EventRunStop,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Data:        raw,
	})
	e.logger.Info("run stopped", "execution_id", executionID)
}

// gatherInputs collects upstream results for a node. A node with
// inbound edges but no live upstream payload is downstream of an
// untaken branch and gets skipped.
func gatherInputs(g types.WorkflowGraph, nodeID string, results map[string]json.RawMessage, skipped map[string]bool, inactivePorts map[string]bool) (map[string]json.RawMessage, bool, bool) {
	inputs := make(map[string]json.RawMessage)
	hasInbound := false
	hasLive := false

	for _, edge := range g.Edges {
		if edge.ToNode != nodeID {
			continue
		}
		hasInbound = true
		if skipped[edge.FromNode] {
			continue
		}
		if inactivePorts[edge.FromNode+"\x00"+edge.FromPort] {
			continue
		}
		result, ok := results[edge.FromNode]
		if !ok {
			continue
		}
		hasLive = true

		// Branch nodes forward their carried value, not the wrapper.
		if from := g.Node(edge.FromNode); from != nil && from.NodeType == "branch" {
			var br branchResult
			if json.Unmarshal(result, &br) == nil && len(br.Value) > 0 {
				result = br.Value
			}
		}
		inputs[edge.ToPort] = result
	}
	return inputs, hasLive, hasInbound
}

// topoOrder returns node ids in dependency order via Kahn's algorithm,
// breaking ties by declaration order so runs are deterministic.
func topoOrder(g types.WorkflowGraph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string, len(g.Nodes))
	position := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		indegree[n.ID] = 0
		position[n.ID] = i
	}
	for _, e := range g.Edges {
		if _, ok := indegree[e.FromNode]; !ok {
			continue
		}
		if _, ok := indegree[e.ToNode]; !ok {
			continue
		}
		adj[e.FromNode] = append(adj[e.FromNode], e.ToNode)
		indegree[e.ToNode]++
	}

	var queue []string
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	var order []string
	for len(queue) > 0 {
		// Pick the earliest-declared ready node.
		best := 0
		for i := 1; i < len(queue); i++ {
			if position[queue[i]] < position[queue[best]] {
				best = i
			}
		}
		id := queue[best]
		queue = append(queue[:best], queue[best+1:]...)
		order = append(order, id)

		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicGraph
	}
	return order, nil
}
