package validator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/helixsec/studio-go/internal/catalog"
	"github.com/helixsec/studio-go/pkg/types"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	c := catalog.New(catalog.NewBuiltinSource())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return New(c)
}

func hasCode(issues []types.ValidationIssue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func startNode(id string) types.NodeInstance {
	return types.NodeInstance{
		ID:          id,
		NodeType:    "start",
		OutputPorts: []types.PortDef{{ID: "out", Name: "Output", PortType: "json"}},
	}
}

func scanNode(id, host string) types.NodeInstance {
	params := map[string]json.RawMessage{}
	if host != "" {
		params["host"] = json.RawMessage(`"` + host + `"`)
	}
	return types.NodeInstance{
		ID:          id,
		NodeType:    "tool::port_scan",
		Params:      params,
		InputPorts:  []types.PortDef{{ID: "in", Name: "Target", PortType: "string", Required: true}},
		OutputPorts: []types.PortDef{{ID: "out", Name: "Open ports", PortType: "array"}},
	}
}

func edge(id, from, fromPort, to, toPort string) types.EdgeDef {
	return types.EdgeDef{ID: id, FromNode: from, FromPort: fromPort, ToNode: to, ToPort: toPort}
}

func TestValidate(t *testing.T) {
	v := newTestValidator(t)

	t.Run("empty workflow", func(t *testing.T) {
		issues := v.Validate(types.WorkflowGraph{})
		if len(issues) != 1 || issues[0].Code != CodeEmptyWorkflow {
			t.Fatalf("expected single empty_workflow issue, got %+v", issues)
		}
	})

	t.Run("valid graph has no issues", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{startNode("s"), scanNode("p", "example.com")},
			Edges: []types.EdgeDef{edge("e1", "s", "out", "p", "in")},
		}
		if issues := v.Validate(g); len(issues) != 0 {
			t.Errorf("expected no issues, got %+v", issues)
		}
	})

	t.Run("duplicate node id", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{startNode("dup"), startNode("dup")},
		}
		if issues := v.Validate(g); !hasCode(issues, CodeDuplicateNodeID) {
			t.Errorf("expected duplicate_node_id, got %+v", issues)
		}
	})

	t.Run("unknown node type", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{{ID: "x", NodeType: "no-such-type"}},
		}
		if issues := v.Validate(g); !hasCode(issues, CodeUnknownNodeType) {
			t.Errorf("expected unknown_node_type, got %+v", issues)
		}
	})

	t.Run("dangling edge endpoints", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{startNode("s")},
			Edges: []types.EdgeDef{edge("e1", "ghost", "out", "s", "nope")},
		}
		issues := v.Validate(g)
		if !hasCode(issues, CodeEdgeFromMissing) {
			t.Errorf("expected edge_from_missing, got %+v", issues)
		}
		// "s" is a start node with no input ports.
		if !hasCode(issues, CodeEdgeToPortMissing) {
			t.Errorf("expected edge_to_port_missing, got %+v", issues)
		}
	})

	t.Run("missing output port", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{startNode("s"), scanNode("p", "example.com")},
			Edges: []types.EdgeDef{edge("e1", "s", "bogus", "p", "in")},
		}
		if issues := v.Validate(g); !hasCode(issues, CodeEdgeFromPortMissing) {
			t.Errorf("expected edge_from_port_missing, got %+v", issues)
		}
	})

	t.Run("cycle detected", func(t *testing.T) {
		a := scanNode("a", "example.com")
		b := scanNode("b", "example.org")
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{a, b},
			Edges: []types.EdgeDef{
				edge("e1", "a", "out", "b", "in"),
				edge("e2", "b", "out", "a", "in"),
			},
		}
		if issues := v.Validate(g); !hasCode(issues, CodeCycleDetected) {
			t.Errorf("expected cycle_detected, got %+v", issues)
		}
	})

	t.Run("missing required input", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{startNode("s"), scanNode("p", "example.com")},
			Edges: []types.EdgeDef{},
		}
		issues := v.Validate(g)
		if !hasCode(issues, CodeMissingRequiredInput) {
			t.Errorf("expected missing_required_input, got %+v", issues)
		}
	})

	t.Run("isolated node", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{startNode("s"), scanNode("p", "example.com"), startNode("lonely")},
			Edges: []types.EdgeDef{edge("e1", "s", "out", "p", "in")},
		}
		issues := v.Validate(g)
		if !hasCode(issues, CodeIsolatedNode) {
			t.Errorf("expected isolated_node, got %+v", issues)
		}
		for _, i := range issues {
			if i.Code == CodeIsolatedNode && i.NodeID != "lonely" {
				t.Errorf("isolated_node should name node lonely, got %q", i.NodeID)
			}
		}
	})

	t.Run("single node is not isolated", func(t *testing.T) {
		g := types.WorkflowGraph{Nodes: []types.NodeInstance{startNode("s")}}
		if issues := v.Validate(g); hasCode(issues, CodeIsolatedNode) {
			t.Errorf("single-node workflow must not be isolated, got %+v", issues)
		}
	})
}

func TestValidate_Params(t *testing.T) {
	v := newTestValidator(t)

	t.Run("missing required param", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{scanNode("p", "")},
		}
		issues := v.Validate(g)
		if !hasCode(issues, CodeInvalidParams) {
			t.Errorf("expected invalid_params for missing host, got %+v", issues)
		}
	})

	t.Run("wrong param type", func(t *testing.T) {
		n := scanNode("p", "example.com")
		n.Params["concurrency"] = json.RawMessage(`"lots"`)
		g := types.WorkflowGraph{Nodes: []types.NodeInstance{n}}
		if issues := v.Validate(g); !hasCode(issues, CodeInvalidParams) {
			t.Errorf("expected invalid_params for string concurrency, got %+v", issues)
		}
	})

	t.Run("enum violation", func(t *testing.T) {
		n := types.NodeInstance{
			ID:       "h",
			NodeType: "tool::http_request",
			Params: map[string]json.RawMessage{
				"url":    json.RawMessage(`"https://example.com"`),
				"method": json.RawMessage(`"TELEPORT"`),
			},
		}
		g := types.WorkflowGraph{Nodes: []types.NodeInstance{n}}
		if issues := v.Validate(g); !hasCode(issues, CodeInvalidParams) {
			t.Errorf("expected invalid_params for bad method, got %+v", issues)
		}
	})

	t.Run("reports multiple issues at once", func(t *testing.T) {
		g := types.WorkflowGraph{
			Nodes: []types.NodeInstance{
				scanNode("p", ""),
				{ID: "x", NodeType: "no-such-type"},
			},
		}
		issues := v.Validate(g)
		if !hasCode(issues, CodeInvalidParams) || !hasCode(issues, CodeUnknownNodeType) {
			t.Errorf("expected both invalid_params and unknown_node_type, got %+v", issues)
		}
	})
}
