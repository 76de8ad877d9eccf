// Package catalog provides the registry of available node types.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/helixsec/studio-go/pkg/types"
)

// ErrNodeTypeNotFound is returned when a node type is unknown.
var ErrNodeTypeNotFound = errors.New("node type not found")

// Source supplies node type descriptors. Implementations must be safe
// for concurrent use.
type Source interface {
	// Fetch returns all available node type descriptors.
	Fetch(ctx context.Context) ([]types.NodeTypeDescriptor, error)
}

// Catalog is a read-only snapshot of available node types, loaded from
// a Source and refreshable on demand. After Load/Refresh the snapshot
// is safe for concurrent reads with no locking by callers.
type Catalog struct {
	source Source

	mu     sync.RWMutex
	byType map[string]types.NodeTypeDescriptor
	order  []string
}

// New creates a catalog over the given source. Call Refresh to load it.
func New(source Source) *Catalog {
	return &Catalog{
		source: source,
		byType: make(map[string]types.NodeTypeDescriptor),
	}
}

// Refresh re-queries the source and replaces the snapshot.
func (c *Catalog) Refresh(ctx context.Context) error {
	descs, err := c.source.Fetch(ctx)
	if err != nil {
		return err
	}

	byType := make(map[string]types.NodeTypeDescriptor, len(descs))
	order := make([]string, 0, len(descs))
	for _, d := range descs {
		if _, dup := byType[d.NodeType]; dup {
			continue
		}
		byType[d.NodeType] = d
		order = append(order, d.NodeType)
	}

	c.mu.Lock()
	c.byType = byType
	c.order = order
	c.mu.Unlock()
	return nil
}

// Get returns the descriptor for a node type.
func (c *Catalog) Get(nodeType string) (types.NodeTypeDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.byType[nodeType]
	if !ok {
		return types.NodeTypeDescriptor{}, ErrNodeTypeNotFound
	}
	return d, nil
}

// Has reports whether a node type is known.
func (c *Catalog) Has(nodeType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byType[nodeType]
	return ok
}

// List returns all descriptors in source order.
func (c *Catalog) List() []types.NodeTypeDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.NodeTypeDescriptor, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.byType[t])
	}
	return out
}

// Len returns the number of known node types.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byType)
}
