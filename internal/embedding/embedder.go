// Package embedding provides text embedding via ONNX with caching, plus a
// deterministic mock for tests.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when there is nothing to embed.
var ErrEmptyText = errors.New("cannot embed empty text")

// Embedder produces fixed-dimension, unit-normalized vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
