package vector

import (
	"context"
	"testing"
)

func TestNewIndex_MemoryDefault(t *testing.T) {
	for _, indexType := range []string{"memory", ""} {
		idx, err := NewIndex(indexType, 4)
		if err != nil {
			t.Fatalf("NewIndex(%q): %v", indexType, err)
		}
		if _, ok := idx.(*MemoryIndex); !ok {
			t.Errorf("NewIndex(%q) = %T, want *MemoryIndex", indexType, idx)
		}
		_ = idx.Close()
	}
}

func TestNewIndex_RoundTrip(t *testing.T) {
	idx, err := NewIndex("memory", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	ctx := context.Background()
	if err := idx.Insert(ctx, 1, []float32{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Key != 1 {
		t.Errorf("hits = %v", hits)
	}
}

func TestNewIndex_UnknownType(t *testing.T) {
	if _, err := NewIndex("hnsw", 4); err == nil {
		t.Error("unknown index type must fail")
	}
}

func TestNewIndex_FAISSRequiresBuildTag(t *testing.T) {
	if IsFAISSAvailable() {
		t.Skip("FAISS compiled in")
	}
	if _, err := NewIndex("faiss", 4); err == nil {
		t.Error("faiss index type must fail when FAISS is not compiled in")
	}
}
