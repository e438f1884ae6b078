//go:build faiss && cgo
// +build faiss,cgo

// Package vector provides a FAISS-based vector index for large stores.
package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"
)

// FAISSIndex is a vector index backed by FAISS IndexFlatIP. Inner product
// over normalized vectors equals cosine similarity, so hits convert to the
// same cosine distance the memory index reports. Record ids map to FAISS
// labels; FAISS flat indexes cannot remove vectors, so Delete only drops the
// mapping and Search over-fetches past the dead labels.
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	labelByKey map[int64]int64
	keyByLabel map[int64]int64
	nextLabel  int64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS inner-product index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var index *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		labelByKey: make(map[int64]int64),
		keyByLabel: make(map[int64]int64),
		nextLabel:  0,
	}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Insert adds one (key, vector) pair. Inserting an existing key is an error;
// callers replace a vector with Delete then Insert.
func (f *FAISSIndex) Insert(ctx context.Context, key int64, vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.labelByKey[key]; ok {
		return fmt.Errorf("key %d already present: delete before reinserting", key)
	}

	ret := C.faiss_Index_add(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&vec[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vector to FAISS index: %s", faissLastError())
	}

	f.labelByKey[key] = f.nextLabel
	f.keyByLabel[f.nextLabel] = key
	f.nextLabel++
	return nil
}

// Delete removes the entry for key. FAISS IndexFlat does not support removal,
// so only the id mapping is dropped; the vector stays in the index but is
// excluded from results. Absent keys are a no-op.
func (f *FAISSIndex) Delete(ctx context.Context, key int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if label, ok := f.labelByKey[key]; ok {
		delete(f.keyByLabel, label)
		delete(f.labelByKey, key)
	}
	return nil
}

// Search returns up to k hits ascending by cosine distance, restricted by
// filter when non-nil. Dead labels and filtered keys are skipped, so the
// FAISS query fetches extra candidates to compensate.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 || len(f.labelByKey) == 0 {
		return nil, nil
	}

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}

	fetch := k + (ntotal - len(f.labelByKey))
	if filter != nil {
		fetch = ntotal
	}
	if fetch > ntotal {
		fetch = ntotal
	}

	scores := make([]float32, fetch)
	labels := make([]int64, fetch)

	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(fetch),
		(*C.float)(unsafe.Pointer(&scores[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	hits := make([]Hit, 0, k)
	for i := 0; i < fetch; i++ {
		if labels[i] < 0 {
			continue
		}
		key, ok := f.keyByLabel[labels[i]]
		if !ok {
			continue
		}
		if filter != nil && !filter(key) {
			continue
		}
		dist := math.Max(0, math.Min(2, 1-float64(scores[i])))
		hits = append(hits, Hit{Key: key, Distance: dist})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Has reports whether key is present.
func (f *FAISSIndex) Has(key int64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.labelByKey[key]
	return ok
}

// faissKeyMapping stores the id mapping for persistence.
type faissKeyMapping struct {
	LabelByKey map[int64]int64
	KeyByLabel map[int64]int64
	NextLabel  int64
}

// Save persists the FAISS index and the id mapping to path (as path+".faiss"
// and path+".idmap").
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	cPath := C.CString(path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))

	ret := C.faiss_write_index_fname(f.index, cPath)
	if ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}

	mapping := faissKeyMapping{
		LabelByKey: f.labelByKey,
		KeyByLabel: f.keyByLabel,
		NextLabel:  f.nextLabel,
	}
	mapFile, err := os.Create(path + ".idmap")
	if err != nil {
		return fmt.Errorf("create id map file: %w", err)
	}
	defer mapFile.Close()

	if err := gob.NewEncoder(mapFile).Encode(mapping); err != nil {
		return fmt.Errorf("encode id map: %w", err)
	}
	return nil
}

// Load reads the index and id mapping from path. Missing files leave the
// index unchanged.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}

	faissPath := path + ".faiss"
	mapPath := path + ".idmap"

	if _, err := os.Stat(faissPath); os.IsNotExist(err) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))

	var newIndex *C.FaissIndex
	ret := C.faiss_read_index_fname(cPath, 0, &newIndex)
	if ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}

	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = newIndex

	mapFile, err := os.Open(mapPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Index exists but no mapping; start over.
			f.labelByKey = make(map[int64]int64)
			f.keyByLabel = make(map[int64]int64)
			f.nextLabel = 0
			return nil
		}
		return fmt.Errorf("open id map file: %w", err)
	}
	defer mapFile.Close()

	var mapping faissKeyMapping
	if err := gob.NewDecoder(mapFile).Decode(&mapping); err != nil {
		return fmt.Errorf("decode id map: %w", err)
	}

	f.labelByKey = mapping.LabelByKey
	f.keyByLabel = mapping.KeyByLabel
	f.nextLabel = mapping.NextLabel
	return nil
}

// Size returns the number of active vectors (excluding deleted ones).
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.labelByKey)
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
