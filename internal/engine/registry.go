// Package engine provides a local workflow runner used when no
// external execution backend is configured. It executes graphs in
// dependency order and reports through the event bus, exactly like a
// remote engine would.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/helixsec/studio-go/pkg/types"
)

// ErrActionNotFound is returned when no action handles a node type.
var ErrActionNotFound = errors.New("no action registered for node type")

// Invocation carries everything an action needs for one node.
type Invocation struct {
	Node types.NodeInstance

	// Inputs holds upstream results keyed by this node's input port
	// id.
	Inputs map[string]json.RawMessage
}

// Param decodes a parameter into dst. Returns false if absent.
func (inv *Invocation) Param(key string, dst interface{}) bool {
	raw, ok := inv.Node.Params[key]
	if !ok || len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// StringParam returns a string parameter or the fallback.
func (inv *Invocation) StringParam(key, fallback string) string {
	var s string
	if inv.Param(key, &s) {
		return s
	}
	return fallback
}

// NumberParam returns a numeric parameter or the fallback.
func (inv *Invocation) NumberParam(key string, fallback float64) float64 {
	var n float64
	if inv.Param(key, &n) {
		return n
	}
	return fallback
}

// BoolParam returns a boolean parameter or the fallback.
func (inv *Invocation) BoolParam(key string, fallback bool) bool {
	var b bool
	if inv.Param(key, &b) {
		return b
	}
	return fallback
}

// FirstInput returns any one input payload, preferring port "in".
func (inv *Invocation) FirstInput() json.RawMessage {
	if raw, ok := inv.Inputs["in"]; ok {
		return raw
	}
	for _, raw := range inv.Inputs {
		return raw
	}
	return nil
}

// Action executes one node. The returned payload is recorded and
// streamed verbatim.
type Action interface {
	Execute(ctx context.Context, inv Invocation) (json.RawMessage, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, inv Invocation) (json.RawMessage, error)

// Execute implements Action.
func (f ActionFunc) Execute(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	return f(ctx, inv)
}

// Registry maps node types to actions. A "tool::" prefix fallback
// handles tool types without a dedicated action.
type Registry struct {
	mu       sync.RWMutex
	actions  map[string]Action
	fallback Action // for unmatched tool:: types
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register binds an action to a node type, replacing any previous one.
func (r *Registry) Register(nodeType string, a Action) {
	r.mu.Lock()
	r.actions[nodeType] = a
	r.mu.Unlock()
}

// SetToolFallback handles tool:: node types with no dedicated action.
func (r *Registry) SetToolFallback(a Action) {
	r.mu.Lock()
	r.fallback = a
	r.mu.Unlock()
}

// Get resolves the action for a node type.
func (r *Registry) Get(nodeType string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.actions[nodeType]; ok {
		return a, nil
	}
	if r.fallback != nil && strings.HasPrefix(nodeType, "tool::") {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrActionNotFound, nodeType)
}
