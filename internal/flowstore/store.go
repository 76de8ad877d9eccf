// Package flowstore provides workflow definition persistence.
package flowstore

import (
	"context"
	"errors"
	"time"

	"github.com/helixsec/studio-go/pkg/types"
)

// ErrWorkflowNotFound is returned when a workflow id is unknown.
var ErrWorkflowNotFound = errors.New("workflow not found")

// SavedWorkflow is a persisted workflow definition plus its library
// metadata.
type SavedWorkflow struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	IsTemplate  bool                `json:"is_template,omitempty"`
	IsTool      bool                `json:"is_tool,omitempty"`
	Graph       types.WorkflowGraph `json:"graph"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// SaveRequest is the input for saving a workflow. The graph's own id
// and name identify the record; saving an existing id updates it.
type SaveRequest struct {
	Graph       types.WorkflowGraph `json:"graph"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	IsTemplate  bool                `json:"is_template,omitempty"`
	IsTool      bool                `json:"is_tool,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Search        string // case-insensitive match on name
	Tag           string // restrict to one tag
	TemplatesOnly bool
	ToolsOnly     bool
}

// Store defines the interface for workflow persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save upserts a workflow definition with its metadata.
	Save(ctx context.Context, req *SaveRequest) (*SavedWorkflow, error)

	// SaveSnapshot upserts just the graph, preserving existing
	// metadata. Used by autosave.
	SaveSnapshot(ctx context.Context, g types.WorkflowGraph) error

	// Get retrieves a workflow by id. Returns ErrWorkflowNotFound if
	// not found.
	Get(ctx context.Context, id string) (*SavedWorkflow, error)

	// Delete removes a workflow. Returns ErrWorkflowNotFound if not
	// found.
	Delete(ctx context.Context, id string) error

	// List returns workflows matching the options, most recently
	// updated first.
	List(ctx context.Context, opts *ListOptions) ([]*SavedWorkflow, error)

	// Close releases any resources.
	Close() error
}

// Validate checks if a SaveRequest is usable.
func (r *SaveRequest) Validate() error {
	if r.Graph.ID == "" {
		return errors.New("workflow id is required")
	}
	if r.Graph.Name == "" {
		return errors.New("workflow name is required")
	}
	return nil
}

func matches(w *SavedWorkflow, opts *ListOptions) bool {
	if opts == nil {
		return true
	}
	if opts.TemplatesOnly && !w.IsTemplate {
		return false
	}
	if opts.ToolsOnly && !w.IsTool {
		return false
	}
	if opts.Tag != "" {
		found := false
		for _, t := range w.Tags {
			if t == opts.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if opts.Search != "" && !containsFold(w.Name, opts.Search) {
		return false
	}
	return true
}
