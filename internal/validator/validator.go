// Package validator performs structural validation of workflow graphs
// before submission.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/pkg/types"
)

// Issue codes. Stable identifiers the UI maps to messages and styling.
const (
	CodeEmptyWorkflow        = "empty_workflow"
	CodeDuplicateNodeID      = "duplicate_node_id"
	CodeUnknownNodeType      = "unknown_node_type"
	CodeEdgeFromMissing      = "edge_from_missing"
	CodeEdgeFromPortMissing  = "edge_from_port_missing"
	CodeEdgeToMissing        = "edge_to_missing"
	CodeEdgeToPortMissing    = "edge_to_port_missing"
	CodeCycleDetected        = "cycle_detected"
	CodeMissingRequiredInput = "missing_required_input"
	CodeInvalidParams        = "invalid_params"
	CodeIsolatedNode         = "isolated_node"
)

// Validator checks graphs against structural rules and per-node-type
// parameter schemas. Safe for concurrent use.
type Validator struct {
	catalog *catalog.Catalog

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// New creates a validator over the given catalog.
func New(cat *catalog.Catalog) *Validator {
	return &Validator{
		catalog: cat,
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Validate returns every problem found in the graph. An empty slice
// means the graph is submittable. Validation never mutates the graph
// and finds as many issues as it can in one pass rather than stopping
// at the first.
func (v *Validator) Validate(g types.WorkflowGraph) []types.ValidationIssue {
	var issues []types.ValidationIssue

	if len(g.Nodes) == 0 {
		return []types.ValidationIssue{{
			Code:    CodeEmptyWorkflow,
			Message: "workflow has no nodes",
		}}
	}

	nodeByID := make(map[string]*types.NodeInstance, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := nodeByID[n.ID]; dup {
			issues = append(issues, types.ValidationIssue{
				Code:    CodeDuplicateNodeID,
				Message: fmt.Sprintf("duplicate node id %q", n.ID),
				NodeID:  n.ID,
			})
			continue
		}
		nodeByID[n.ID] = n
	}

	for i := range g.Nodes {
		issues = append(issues, v.checkNode(&g.Nodes[i])...)
	}

	issues = append(issues, checkEdges(g, nodeByID)...)
	issues = append(issues, checkCycles(g, nodeByID)...)
	issues = append(issues, checkRequiredInputs(g, nodeByID)...)
	issues = append(issues, checkIsolated(g)...)

	return issues
}

// checkNode verifies the node type exists and its params satisfy the
// type's schema.
func (v *Validator) checkNode(n *types.NodeInstance) []types.ValidationIssue {
	desc, err := v.catalog.Get(n.NodeType)
	if err != nil {
		return []types.ValidationIssue{{
			Code:    CodeUnknownNodeType,
			Message: fmt.Sprintf("node %q has unknown type %q", n.ID, n.NodeType),
			NodeID:  n.ID,
		}}
	}
	if len(desc.ParamSchema) == 0 {
		return nil
	}

	schema, err := v.compiled(n.NodeType, desc.ParamSchema)
	if err != nil {
		return []types.ValidationIssue{{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("node %q: schema for type %q is invalid: %v", n.ID, n.NodeType, err),
			NodeID:  n.ID,
		}}
	}

	params := make(map[string]interface{}, len(n.Params))
	for k, raw := range n.Params {
		var val interface{}
		if err := json.Unmarshal(raw, &val); err != nil {
			return []types.ValidationIssue{{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("node %q: parameter %q is not valid JSON", n.ID, k),
				NodeID:  n.ID,
			}}
		}
		params[k] = val
	}

	if err := schema.Validate(params); err != nil {
		var out []types.ValidationIssue
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			for _, msg := range flatten(verr) {
				out = append(out, types.ValidationIssue{
					Code:    CodeInvalidParams,
					Message: fmt.Sprintf("node %q: %s", n.ID, msg),
					NodeID:  n.ID,
				})
			}
		} else {
			out = append(out, types.ValidationIssue{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("node %q: %v", n.ID, err),
				NodeID:  n.ID,
			})
		}
		return out
	}
	return nil
}

// compiled returns the compiled schema for a node type, compiling and
// caching it on first use.
func (v *Validator) compiled(nodeType string, raw json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[nodeType]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	url := "params/" + nodeType + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.schemas[nodeType] = s
	return s, nil
}

func checkEdges(g types.WorkflowGraph, nodeByID map[string]*types.NodeInstance) []types.ValidationIssue {
	var issues []types.ValidationIssue
	for _, e := range g.Edges {
		from, ok := nodeByID[e.FromNode]
		if !ok {
			issues = append(issues, types.ValidationIssue{
				Code:    CodeEdgeFromMissing,
				Message: fmt.Sprintf("edge %q references missing source node %q", e.ID, e.FromNode),
				EdgeID:  e.ID,
			})
		} else if !portExists(from.OutputPorts, e.FromPort) {
			issues = append(issues, types.ValidationIssue{
				Code:    CodeEdgeFromPortMissing,
				Message: fmt.Sprintf("edge %q references missing output port %q on node %q", e.ID, e.FromPort, e.FromNode),
				EdgeID:  e.ID,
				NodeID:  e.FromNode,
			})
		}

		to, ok := nodeByID[e.ToNode]
		if !ok {
			issues = append(issues, types.ValidationIssue{
				Code:    CodeEdgeToMissing,
				Message: fmt.Sprintf("edge %q references missing target node %q", e.ID, e.ToNode),
				EdgeID:  e.ID,
			})
		} else if !portExists(to.InputPorts, e.ToPort) {
			issues = append(issues, types.ValidationIssue{
				Code:    CodeEdgeToPortMissing,
				Message: fmt.Sprintf("edge %q references missing input port %q on node %q", e.ID, e.ToPort, e.ToNode),
				EdgeID:  e.ID,
				NodeID:  e.ToNode,
			})
		}
	}
	return issues
}

// checkCycles runs Kahn's algorithm over edges whose endpoints both
// exist. If any node cannot be drained the graph contains a cycle.
func checkCycles(g types.WorkflowGraph, nodeByID map[string]*types.NodeInstance) []types.ValidationIssue {
	indegree := make(map[string]int, len(nodeByID))
	adj := make(map[string][]string, len(nodeByID))
	for id := range nodeByID {
		indegree[id] = 0
	}
	for _, e := range g.Edges {
		if _, ok := nodeByID[e.FromNode]; !ok {
			continue
		}
		if _, ok := nodeByID[e.ToNode]; !ok {
			continue
		}
		adj[e.FromNode] = append(adj[e.FromNode], e.ToNode)
		indegree[e.ToNode]++
	}

	queue := make([]string, 0, len(indegree))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	drained := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		drained++
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if drained < len(indegree) {
		var stuck []string
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		return []types.ValidationIssue{{
			Code:    CodeCycleDetected,
			Message: fmt.Sprintf("workflow contains a cycle involving %d node(s)", len(stuck)),
		}}
	}
	return nil
}

func checkRequiredInputs(g types.WorkflowGraph, nodeByID map[string]*types.NodeInstance) []types.ValidationIssue {
	connected := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		connected[e.ToNode+"\x00"+e.ToPort] = struct{}{}
	}

	var issues []types.ValidationIssue
	for _, n := range g.Nodes {
		if nodeByID[n.ID] == nil {
			continue
		}
		for _, p := range n.InputPorts {
			if !p.Required {
				continue
			}
			if _, ok := connected[n.ID+"\x00"+p.ID]; !ok {
				issues = append(issues, types.ValidationIssue{
					Code:    CodeMissingRequiredInput,
					Message: fmt.Sprintf("node %q: required input %q is not connected", n.ID, p.ID),
					NodeID:  n.ID,
				})
			}
		}
	}
	return issues
}

// checkIsolated flags nodes with no edges at all. A single-node
// workflow is fine; isolation only matters once other nodes exist.
func checkIsolated(g types.WorkflowGraph) []types.ValidationIssue {
	if len(g.Nodes) <= 1 {
		return nil
	}

	touched := make(map[string]struct{}, len(g.Nodes))
	for _, e := range g.Edges {
		touched[e.FromNode] = struct{}{}
		touched[e.ToNode] = struct{}{}
	}

	var issues []types.ValidationIssue
	for _, n := range g.Nodes {
		if _, ok := touched[n.ID]; !ok {
			issues = append(issues, types.ValidationIssue{
				Code:    CodeIsolatedNode,
				Message: fmt.Sprintf("node %q is not connected to the rest of the workflow", n.ID),
				NodeID:  n.ID,
			})
		}
	}
	return issues
}

func portExists(ports []types.PortDef, id string) bool {
	for _, p := range ports {
		if p.ID == id {
			return true
		}
	}
	return false
}

// flatten recursively collects leaf messages from a validation error.
func flatten(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "$"
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Message)}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
