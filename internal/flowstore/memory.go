package flowstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helixsec/studio-go/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*SavedWorkflow
}

// NewMemoryStore creates a new in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*SavedWorkflow),
	}
}

// Save upserts a workflow definition with its metadata.
func (s *MemoryStore) Save(ctx context.Context, req *SaveRequest) (*SavedWorkflow, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	w := &SavedWorkflow{
		ID:          req.Graph.ID,
		Name:        req.Graph.Name,
		Description: req.Description,
		Tags:        append([]string(nil), req.Tags...),
		IsTemplate:  req.IsTemplate,
		IsTool:      req.IsTool,
		Graph:       req.Graph,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, ok := s.workflows[w.ID]; ok {
		w.CreatedAt = existing.CreatedAt
	}

	s.workflows[w.ID] = w
	out := *w
	return &out, nil
}

// SaveSnapshot upserts just the graph, preserving existing metadata.
func (s *MemoryStore) SaveSnapshot(ctx context.Context, g types.WorkflowGraph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.workflows[g.ID]; ok {
		existing.Graph = g
		existing.Name = g.Name
		existing.UpdatedAt = now
		return nil
	}
	s.workflows[g.ID] = &SavedWorkflow{
		ID:        g.ID,
		Name:      g.Name,
		Graph:     g,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get retrieves a workflow by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*SavedWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	// Return a copy to prevent external mutation
	out := *w
	out.Tags = append([]string(nil), w.Tags...)
	return &out, nil
}

// Delete removes a workflow.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	return nil
}

// List returns workflows matching the options, most recently updated
// first.
func (s *MemoryStore) List(ctx context.Context, opts *ListOptions) ([]*SavedWorkflow, error) {
	s.mu.RLock()
	var out []*SavedWorkflow
	for _, w := range s.workflows {
		if !matches(w, opts) {
			continue
		}
		cw := *w
		cw.Tags = append([]string(nil), w.Tags...)
		out = append(out, &cw)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
