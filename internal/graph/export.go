package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/helixsec/studio-go/pkg/types"
)

// Document is the portable export envelope for a workflow definition.
type Document struct {
	Graph       types.WorkflowGraph `json:"graph"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	IsTemplate  bool                `json:"is_template,omitempty"`
	IsTool      bool                `json:"is_tool,omitempty"`
	ExportedAt  time.Time           `json:"exported_at"`
}

// Export serializes the current graph into a shareable document.
func Export(m *Model, description string, tags []string) ([]byte, error) {
	doc := Document{
		Graph:       m.Snapshot(),
		Description: description,
		Tags:        tags,
		ExportedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export workflow: %w", err)
	}
	return data, nil
}

// ExportDocument serializes a prepared document, stamping the export
// time.
func ExportDocument(doc Document) ([]byte, error) {
	doc.ExportedAt = time.Now().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export workflow: %w", err)
	}
	return data, nil
}

// Import parses an exported document and returns its graph with a
// freshly minted workflow id, so an import can never silently
// overwrite an existing saved workflow.
func Import(data []byte) (types.WorkflowGraph, error) {
	g, _, err := ImportDocument(data)
	return g, err
}

// ImportDocument is Import plus the envelope metadata, for callers
// that persist the description and tags alongside the graph.
func ImportDocument(data []byte) (types.WorkflowGraph, Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return types.WorkflowGraph{}, Document{}, fmt.Errorf("parse workflow document: %w", err)
	}

	g := doc.Graph
	if len(g.Nodes) == 0 {
		// Accept a bare graph too; early exports had no envelope.
		var bare types.WorkflowGraph
		if err := json.Unmarshal(data, &bare); err == nil && len(bare.Nodes) > 0 {
			g = bare
		}
	}
	if len(g.Nodes) == 0 {
		return types.WorkflowGraph{}, Document{}, fmt.Errorf("workflow document has no nodes")
	}

	g.ID = uuid.New().String()
	if g.Version == "" {
		g.Version = "1.0"
	}
	g.DedupEdges()
	return g, doc, nil
}
