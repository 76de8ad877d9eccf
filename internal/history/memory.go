package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/helixsec/studio-go/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.ExecutionRecord
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*types.ExecutionRecord),
	}
}

// Save upserts a record.
func (s *MemoryStore) Save(ctx context.Context, rec types.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec
	stored.Steps = append([]types.StepResult(nil), rec.Steps...)
	s.records[rec.ExecutionID] = &stored
	return nil
}

// Get retrieves the full record.
func (s *MemoryStore) Get(ctx context.Context, executionID string) (*types.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}

	// Return a copy to prevent external mutation
	out := *rec
	out.Steps = append([]types.StepResult(nil), rec.Steps...)
	return &out, nil
}

// List returns one page of summaries, newest first.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) (*Page, error) {
	opts = opts.normalized()

	s.mu.RLock()
	var matches []types.ExecutionSummary
	for _, rec := range s.records {
		if !recordMatches(rec, opts) {
			continue
		}
		matches = append(matches, rec.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].StartedAt.After(matches[j].StartedAt)
	})

	return paginate(matches, opts), nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[executionID]; !ok {
		return ErrExecutionNotFound
	}
	delete(s.records, executionID)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func recordMatches(rec *types.ExecutionRecord, opts ListOptions) bool {
	if opts.WorkflowID != "" && rec.WorkflowID != opts.WorkflowID {
		return false
	}
	if opts.Search != "" &&
		!strings.Contains(strings.ToLower(rec.WorkflowName), strings.ToLower(opts.Search)) {
		return false
	}
	return true
}

// paginate slices the sorted matches into the requested page. A page
// past the end returns empty data with the real total.
func paginate(matches []types.ExecutionSummary, opts ListOptions) *Page {
	total := len(matches)
	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return &Page{Data: []types.ExecutionSummary{}, Total: total}
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}
	return &Page{Data: matches[start:end], Total: total}
}
