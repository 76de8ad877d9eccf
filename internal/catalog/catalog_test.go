package catalog

import (
	"context"
	"testing"

	"github.com/helixsec/studio-go/pkg/types"
)

func TestCatalog_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("loads builtin palette", func(t *testing.T) {
		c := New(NewBuiltinSource())
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}

		if c.Len() == 0 {
			t.Fatal("expected builtin node types")
		}

		d, err := c.Get("tool::http_request")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if d.Category != "tools" {
			t.Errorf("expected category tools, got %q", d.Category)
		}
		if len(d.ParamSchema) == 0 {
			t.Error("expected param schema")
		}
	})

	t.Run("replaces snapshot on refresh", func(t *testing.T) {
		src := NewStaticSource([]types.NodeTypeDescriptor{
			{NodeType: "a", Label: "A"},
		})
		c := New(src)
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if !c.Has("a") {
			t.Error("expected type a after first refresh")
		}

		src.descs = []types.NodeTypeDescriptor{{NodeType: "b", Label: "B"}}
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if c.Has("a") {
			t.Error("stale type a should be gone")
		}
		if !c.Has("b") {
			t.Error("expected type b after second refresh")
		}
	})

	t.Run("unknown type returns error", func(t *testing.T) {
		c := New(NewBuiltinSource())
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if _, err := c.Get("no-such-type"); err != ErrNodeTypeNotFound {
			t.Errorf("expected ErrNodeTypeNotFound, got %v", err)
		}
	})

	t.Run("drops duplicate node types", func(t *testing.T) {
		src := NewStaticSource([]types.NodeTypeDescriptor{
			{NodeType: "dup", Label: "First"},
			{NodeType: "dup", Label: "Second"},
		})
		c := New(src)
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if c.Len() != 1 {
			t.Fatalf("expected 1 type, got %d", c.Len())
		}
		d, _ := c.Get("dup")
		if d.Label != "First" {
			t.Errorf("expected first occurrence kept, got %q", d.Label)
		}
	})

	t.Run("list preserves source order", func(t *testing.T) {
		src := NewStaticSource([]types.NodeTypeDescriptor{
			{NodeType: "z"},
			{NodeType: "a"},
			{NodeType: "m"},
		})
		c := New(src)
		if err := c.Refresh(ctx); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		got := c.List()
		want := []string{"z", "a", "m"}
		for i, w := range want {
			if got[i].NodeType != w {
				t.Errorf("position %d: expected %q, got %q", i, w, got[i].NodeType)
			}
		}
	})
}
