// Package types provides shared types for the workflow studio core.
package types

import (
	"encoding/json"
)

// PortDef describes an input or output port on a node.
type PortDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PortType string `json:"port_type"` // string, integer, float, boolean, json, array, artifact
	Required bool   `json:"required"`
}

// ParamKind identifies the editor widget for a parameter field.
type ParamKind string

const (
	ParamString  ParamKind = "string"
	ParamNumber  ParamKind = "number"
	ParamBoolean ParamKind = "boolean"
	ParamEnum    ParamKind = "enum"
	ParamArray   ParamKind = "array"
	ParamObject  ParamKind = "object"
)

// ParamField describes one parameter in a node type's schema.
type ParamField struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Kind    ParamKind       `json:"kind"`
	Options []string        `json:"options,omitempty"` // enum choices
	Default json.RawMessage `json:"default,omitempty"`
	Required bool           `json:"required,omitempty"`
}

// NodeTypeDescriptor describes an available node type in the catalog.
// Immutable once fetched.
type NodeTypeDescriptor struct {
	NodeType    string          `json:"node_type"`
	Label       string          `json:"label"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	InputPorts  []PortDef       `json:"input_ports"`
	OutputPorts []PortDef       `json:"output_ports"`
	ParamFields []ParamField    `json:"param_fields,omitempty"`
	ParamSchema json.RawMessage `json:"param_schema,omitempty"` // JSON Schema for params
}

// Position is a node's canvas placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeInstance is one configured unit of work placed on the canvas.
type NodeInstance struct {
	ID          string                     `json:"id"`
	NodeType    string                     `json:"node_type"`
	DisplayName string                     `json:"display_name"`
	Position    Position                   `json:"position"`
	Params      map[string]json.RawMessage `json:"params,omitempty"`
	InputPorts  []PortDef                  `json:"input_ports"`
	OutputPorts []PortDef                  `json:"output_ports"`
}

// EdgeDef is a directed connection between two node ports.
type EdgeDef struct {
	ID       string `json:"id"`
	FromNode string `json:"from_node"`
	FromPort string `json:"from_port"`
	ToNode   string `json:"to_node"`
	ToPort   string `json:"to_port"`
}

// Tuple returns the identity of the edge. Two edges with the same
// tuple are duplicates regardless of their generated IDs.
func (e *EdgeDef) Tuple() string {
	return e.FromNode + "\x00" + e.FromPort + "\x00" + e.ToNode + "\x00" + e.ToPort
}

// VariableDef is a workflow-level variable declaration.
type VariableDef struct {
	Name    string          `json:"name"`
	VarType string          `json:"var_type"`
	Default json.RawMessage `json:"default,omitempty"`
}

// CredentialRef names a credential a workflow depends on.
type CredentialRef struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	RefID    string `json:"ref_id,omitempty"`
}

// WorkflowGraph is the serialized, submittable unit.
type WorkflowGraph struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Nodes       []NodeInstance  `json:"nodes"`
	Edges       []EdgeDef       `json:"edges"`
	Variables   []VariableDef   `json:"variables,omitempty"`
	Credentials []CredentialRef `json:"credentials,omitempty"`
}

// Node returns the node with the given id, or nil.
func (g *WorkflowGraph) Node(id string) *NodeInstance {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// DedupEdges removes edges whose (from, to) tuple repeats, keeping the
// first occurrence. Called before submission; duplicate tuples are
// meaningless to the engine.
func (g *WorkflowGraph) DedupEdges() {
	seen := make(map[string]struct{}, len(g.Edges))
	out := g.Edges[:0]
	for _, e := range g.Edges {
		if _, dup := seen[e.Tuple()]; dup {
			continue
		}
		seen[e.Tuple()] = struct{}{}
		out = append(out, e)
	}
	g.Edges = out
}

// ValidationIssue is one structural problem found in a graph.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
}
