// Package history provides execution record persistence.
package history

import (
	"context"
	"errors"

	"github.com/helixsec/studio-go/pkg/types"
)

// ErrExecutionNotFound is returned when an execution id is unknown.
var ErrExecutionNotFound = errors.New("execution not found")

// DefaultPageSize is used when a list request does not set one.
const DefaultPageSize = 20

// ListOptions configures history queries. Page is 1-based.
type ListOptions struct {
	Page       int
	PageSize   int
	Search     string // case-insensitive match on workflow name
	WorkflowID string // restrict to one workflow
}

// normalized fills defaults and clamps nonsense values.
func (o ListOptions) normalized() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = DefaultPageSize
	}
	return o
}

// Page is one page of execution summaries plus the total match count,
// so the UI can render page controls.
type Page struct {
	Data  []types.ExecutionSummary `json:"data"`
	Total int                      `json:"total"`
}

// Store defines the interface for execution history persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save upserts a finished execution record.
	Save(ctx context.Context, rec types.ExecutionRecord) error

	// Get retrieves the full record including step results.
	// Returns ErrExecutionNotFound if not found.
	Get(ctx context.Context, executionID string) (*types.ExecutionRecord, error)

	// List returns one page of summaries, newest first.
	List(ctx context.Context, opts ListOptions) (*Page, error)

	// Delete removes a record. Returns ErrExecutionNotFound if not found.
	Delete(ctx context.Context, executionID string) error

	// Close releases any resources.
	Close() error
}
