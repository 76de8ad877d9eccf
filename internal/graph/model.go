// Package graph provides the mutable workflow graph model edited by
// the studio canvas.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/helixsec/studio-go/pkg/types"
)

// Common errors returned by Model operations.
var (
	ErrNodeNotFound = errors.New("node not found")
	ErrEdgeNotFound = errors.New("edge not found")
	ErrPortNotFound = errors.New("port not found")
)

// ChangeKind categorizes a model mutation.
type ChangeKind string

const (
	ChangeNodeAdded     ChangeKind = "node_added"
	ChangeNodeRemoved   ChangeKind = "node_removed"
	ChangeEdgeAdded     ChangeKind = "edge_added"
	ChangeEdgeRemoved   ChangeKind = "edge_removed"
	ChangeParamsUpdated ChangeKind = "params_updated"
	ChangeMetaUpdated   ChangeKind = "meta_updated"
	ChangeReset         ChangeKind = "reset"
	ChangeLoaded        ChangeKind = "loaded"
)

// Change describes one mutation for observers.
type Change struct {
	Kind   ChangeKind
	NodeID string
	EdgeID string
}

// Observer receives change notifications. Observers must be fast and
// non-blocking; they are invoked synchronously after each mutation.
type Observer func(Change)

// Subscription is an owned handle to an observer registration.
type Subscription struct {
	m  *Model
	id int
}

// Unsubscribe removes the observer. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.m == nil {
		return
	}
	s.m.mu.Lock()
	delete(s.m.observers, s.id)
	s.m.mu.Unlock()
	s.m = nil
}

// Model is the mutable set of node instances and edges being edited.
// All mutating operations mark the model dirty; the autosave
// controller observes changes and persists the latest snapshot.
type Model struct {
	mu        sync.Mutex
	graph     types.WorkflowGraph
	dirty     bool
	revision  uint64
	observers map[int]Observer
	nextObs   int

	// Visual execution markers, keyed by node id. Written by the
	// event bridge, read by the canvas.
	nodeStatus map[string]types.StepStatus
}

// NewModel creates an empty model with a freshly minted workflow id.
func NewModel() *Model {
	return &Model{
		graph: types.WorkflowGraph{
			ID:      uuid.New().String(),
			Version: "1.0",
		},
		observers:  make(map[int]Observer),
		nodeStatus: make(map[string]types.StepStatus),
	}
}

// Subscribe registers an observer and returns its handle.
func (m *Model) Subscribe(obs Observer) *Subscription {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = obs
	m.mu.Unlock()
	return &Subscription{m: m, id: id}
}

// notifyLocked snapshots the observer list under the lock; callers
// invoke the returned function after unlocking.
func (m *Model) notifyLocked(c Change) func() {
	m.dirty = true
	m.revision++
	obs := make([]Observer, 0, len(m.observers))
	for _, o := range m.observers {
		obs = append(obs, o)
	}
	return func() {
		for _, o := range obs {
			o(c)
		}
	}
}

// WorkflowID returns the current workflow id.
func (m *Model) WorkflowID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.ID
}

// Name returns the current workflow name.
func (m *Model) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.graph.Name
}

// SetName updates workflow metadata.
func (m *Model) SetName(name string) {
	m.mu.Lock()
	m.graph.Name = name
	notify := m.notifyLocked(Change{Kind: ChangeMetaUpdated})
	m.mu.Unlock()
	notify()
}

// Revision returns a counter bumped by every mutation.
func (m *Model) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

// Dirty reports whether the model changed since the last MarkClean.
func (m *Model) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (m *Model) MarkClean() {
	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
}

// AddNode instantiates a catalog descriptor at the given position.
// Node ids are minted client-side and never reused within a session.
func (m *Model) AddNode(desc types.NodeTypeDescriptor, pos types.Position) types.NodeInstance {
	params := make(map[string]json.RawMessage)
	for _, f := range desc.ParamFields {
		if len(f.Default) > 0 {
			params[f.Key] = append(json.RawMessage(nil), f.Default...)
		}
	}

	node := types.NodeInstance{
		ID:          uuid.New().String(),
		NodeType:    desc.NodeType,
		DisplayName: desc.Label,
		Position:    pos,
		Params:      params,
		InputPorts:  append([]types.PortDef(nil), desc.InputPorts...),
		OutputPorts: append([]types.PortDef(nil), desc.OutputPorts...),
	}

	m.mu.Lock()
	m.graph.Nodes = append(m.graph.Nodes, node)
	notify := m.notifyLocked(Change{Kind: ChangeNodeAdded, NodeID: node.ID})
	m.mu.Unlock()
	notify()
	return node
}

// RemoveNode deletes a node and every edge touching it.
func (m *Model) RemoveNode(id string) error {
	m.mu.Lock()
	idx := -1
	for i := range m.graph.Nodes {
		if m.graph.Nodes[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrNodeNotFound
	}

	m.graph.Nodes = append(m.graph.Nodes[:idx], m.graph.Nodes[idx+1:]...)

	kept := m.graph.Edges[:0]
	for _, e := range m.graph.Edges {
		if e.FromNode == id || e.ToNode == id {
			continue
		}
		kept = append(kept, e)
	}
	m.graph.Edges = kept
	delete(m.nodeStatus, id)

	notify := m.notifyLocked(Change{Kind: ChangeNodeRemoved, NodeID: id})
	m.mu.Unlock()
	notify()
	return nil
}

// MoveNode updates a node's canvas position.
func (m *Model) MoveNode(id string, pos types.Position) error {
	m.mu.Lock()
	node := m.graph.Node(id)
	if node == nil {
		m.mu.Unlock()
		return ErrNodeNotFound
	}
	node.Position = pos
	notify := m.notifyLocked(Change{Kind: ChangeMetaUpdated, NodeID: id})
	m.mu.Unlock()
	notify()
	return nil
}

// Connect creates an edge between two ports. Idempotent: repeating the
// same (from, to) tuple returns the existing edge without creating a
// second one. Port type compatibility is deliberately not checked.
func (m *Model) Connect(fromNode, fromPort, toNode, toPort string) (types.EdgeDef, bool, error) {
	m.mu.Lock()

	from := m.graph.Node(fromNode)
	to := m.graph.Node(toNode)
	if from == nil || to == nil {
		m.mu.Unlock()
		return types.EdgeDef{}, false, ErrNodeNotFound
	}
	if !hasPort(from.OutputPorts, fromPort) || !hasPort(to.InputPorts, toPort) {
		m.mu.Unlock()
		return types.EdgeDef{}, false, ErrPortNotFound
	}

	want := (&types.EdgeDef{FromNode: fromNode, FromPort: fromPort, ToNode: toNode, ToPort: toPort}).Tuple()
	for _, e := range m.graph.Edges {
		if e.Tuple() == want {
			m.mu.Unlock()
			return e, false, nil
		}
	}

	edge := types.EdgeDef{
		ID:       uuid.New().String(),
		FromNode: fromNode,
		FromPort: fromPort,
		ToNode:   toNode,
		ToPort:   toPort,
	}
	m.graph.Edges = append(m.graph.Edges, edge)
	notify := m.notifyLocked(Change{Kind: ChangeEdgeAdded, EdgeID: edge.ID})
	m.mu.Unlock()
	notify()
	return edge, true, nil
}

// Disconnect removes an edge by id.
func (m *Model) Disconnect(edgeID string) error {
	m.mu.Lock()
	idx := -1
	for i := range m.graph.Edges {
		if m.graph.Edges[i].ID == edgeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrEdgeNotFound
	}
	m.graph.Edges = append(m.graph.Edges[:idx], m.graph.Edges[idx+1:]...)
	notify := m.notifyLocked(Change{Kind: ChangeEdgeRemoved, EdgeID: edgeID})
	m.mu.Unlock()
	notify()
	return nil
}

// UpdateParams replaces a node's parameter bag. Callers edit a draft
// copy and commit through here on explicit save.
func (m *Model) UpdateParams(nodeID string, params map[string]json.RawMessage) error {
	m.mu.Lock()
	node := m.graph.Node(nodeID)
	if node == nil {
		m.mu.Unlock()
		return ErrNodeNotFound
	}
	node.Params = cloneParams(params)
	notify := m.notifyLocked(Change{Kind: ChangeParamsUpdated, NodeID: nodeID})
	m.mu.Unlock()
	notify()
	return nil
}

// Reset clears all nodes and edges ahead of loading a different
// definition. The workflow id is preserved; use NewWorkflow to mint a
// fresh one.
func (m *Model) Reset() {
	m.mu.Lock()
	m.graph.Nodes = nil
	m.graph.Edges = nil
	m.nodeStatus = make(map[string]types.StepStatus)
	notify := m.notifyLocked(Change{Kind: ChangeReset})
	m.mu.Unlock()
	notify()
}

// NewWorkflow resets the model and mints a fresh workflow id so a new
// definition cannot overwrite a previously saved one.
func (m *Model) NewWorkflow() string {
	m.mu.Lock()
	m.graph = types.WorkflowGraph{
		ID:      uuid.New().String(),
		Version: "1.0",
	}
	m.nodeStatus = make(map[string]types.StepStatus)
	notify := m.notifyLocked(Change{Kind: ChangeReset})
	id := m.graph.ID
	m.mu.Unlock()
	notify()
	return id
}

// Load replaces the model contents with a saved definition. The model
// is left clean: loading is not an edit.
func (m *Model) Load(g types.WorkflowGraph) {
	m.mu.Lock()
	m.graph = cloneGraph(g)
	m.nodeStatus = make(map[string]types.StepStatus)
	m.revision++
	obs := make([]Observer, 0, len(m.observers))
	for _, o := range m.observers {
		obs = append(obs, o)
	}
	m.dirty = false
	m.mu.Unlock()
	for _, o := range obs {
		o(Change{Kind: ChangeLoaded})
	}
}

// Snapshot returns a deep copy of the current graph.
func (m *Model) Snapshot() types.WorkflowGraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneGraph(m.graph)
}

// NodeCount returns the number of nodes.
func (m *Model) NodeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.graph.Nodes)
}

// EdgeCount returns the number of edges.
func (m *Model) EdgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.graph.Edges)
}

// SetNodeStatus records a visual execution marker for a node. Unknown
// node ids are ignored; a late event for a deleted node is harmless.
func (m *Model) SetNodeStatus(nodeID string, status types.StepStatus) {
	m.mu.Lock()
	if m.graph.Node(nodeID) != nil {
		m.nodeStatus[nodeID] = status
	}
	m.mu.Unlock()
}

// NodeStatus returns the visual marker for a node, if any.
func (m *Model) NodeStatus(nodeID string) (types.StepStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.nodeStatus[nodeID]
	return s, ok
}

// ClearNodeStatuses releases all markers back to idle.
func (m *Model) ClearNodeStatuses() {
	m.mu.Lock()
	m.nodeStatus = make(map[string]types.StepStatus)
	m.mu.Unlock()
}

func hasPort(ports []types.PortDef, id string) bool {
	for _, p := range ports {
		if p.ID == id {
			return true
		}
	}
	return false
}

func cloneParams(params map[string]json.RawMessage) map[string]json.RawMessage {
	if params == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(params))
	for k, v := range params {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func cloneGraph(g types.WorkflowGraph) types.WorkflowGraph {
	out := g
	out.Nodes = make([]types.NodeInstance, len(g.Nodes))
	for i, n := range g.Nodes {
		cn := n
		cn.Params = cloneParams(n.Params)
		cn.InputPorts = append([]types.PortDef(nil), n.InputPorts...)
		cn.OutputPorts = append([]types.PortDef(nil), n.OutputPorts...)
		out.Nodes[i] = cn
	}
	out.Edges = append([]types.EdgeDef(nil), g.Edges...)
	out.Variables = append([]types.VariableDef(nil), g.Variables...)
	out.Credentials = append([]types.CredentialRef(nil), g.Credentials...)
	return out
}

// String implements fmt.Stringer for debug logging.
func (m *Model) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("graph %s (%d nodes, %d edges)", m.graph.ID, len(m.graph.Nodes), len(m.graph.Edges))
}
