//go:build !faiss || !cgo
// +build !faiss !cgo

// Package vector provides a stub for FAISS when the faiss build tag is not set.
package vector

import (
	"context"
	"fmt"
)

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	return nil, fmt.Errorf("FAISS not available: build with -tags=faiss and install FAISS library")
}

// Insert is not implemented without FAISS.
func (f *FAISSIndex) Insert(ctx context.Context, key int64, vec []float32) error {
	return fmt.Errorf("FAISS not available")
}

// Delete is not implemented without FAISS.
func (f *FAISSIndex) Delete(ctx context.Context, key int64) error {
	return fmt.Errorf("FAISS not available")
}

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Hit, error) {
	return nil, fmt.Errorf("FAISS not available")
}

// Has returns false without FAISS.
func (f *FAISSIndex) Has(key int64) bool {
	return false
}

// Save is not implemented without FAISS.
func (f *FAISSIndex) Save(path string) error {
	return fmt.Errorf("FAISS not available")
}

// Load is not implemented without FAISS.
func (f *FAISSIndex) Load(path string) error {
	return fmt.Errorf("FAISS not available")
}

// Size returns 0 without FAISS.
func (f *FAISSIndex) Size() int {
	return 0
}

// Close is a no-op without FAISS.
func (f *FAISSIndex) Close() error {
	return nil
}
