// Package vector provides the nearest-neighbor index over record
// embeddings: an in-memory exact scan with file persistence. At per-user
// record counts (thousands, not millions) an exact scan beats maintaining
// an ANN structure.
package vector

import "context"

// Hit is a single nearest-neighbor result. Distance is cosine distance:
// 0 means identical direction, 1 orthogonal. For normalized embeddings the
// practical range is [0, 1].
type Hit struct {
	Key      int64
	Distance float64
}

// Filter restricts a search to keys it returns true for. A nil filter
// matches everything.
type Filter func(key int64) bool

// Index defines vector storage and nearest-neighbor search keyed by record
// id. There is no in-place update: replacing a vector is Delete then Insert
// under the same key.
type Index interface {
	// Insert adds one (key, vector) pair. The key must not already be
	// present.
	Insert(ctx context.Context, key int64, vec []float32) error
	// Delete removes the entry for key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key int64) error
	// Search returns up to k hits ordered ascending by distance,
	// optionally restricted by filter.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Hit, error)
	// Has reports whether key is present.
	Has(key int64) bool
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}
