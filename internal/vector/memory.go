// Package vector provides an in-memory brute-force index with file persistence.
package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory vector index using exact cosine-distance
// search over normalized vectors.
type MemoryIndex struct {
	dimensions int
	keys       []int64
	vectors    [][]float32
	pos        map[int64]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		pos:        make(map[int64]int),
	}, nil
}

// Insert adds one (key, vector) pair. Inserting an existing key is an error;
// callers replace a vector with Delete then Insert.
func (m *MemoryIndex) Insert(ctx context.Context, key int64, vec []float32) error {
	if len(vec) != m.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), m.dimensions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pos[key]; ok {
		return fmt.Errorf("key %d already present: delete before reinserting", key)
	}
	cp := make([]float32, m.dimensions)
	copy(cp, vec)
	m.pos[key] = len(m.keys)
	m.keys = append(m.keys, key)
	m.vectors = append(m.vectors, cp)
	return nil
}

// Delete removes the entry for key, swapping the last entry into its slot.
// Absent keys are a no-op.
func (m *MemoryIndex) Delete(ctx context.Context, key int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.pos[key]
	if !ok {
		return nil
	}
	last := len(m.keys) - 1
	if i != last {
		m.keys[i] = m.keys[last]
		m.vectors[i] = m.vectors[last]
		m.pos[m.keys[i]] = i
	}
	m.keys = m.keys[:last]
	m.vectors = m.vectors[:last]
	delete(m.pos, key)
	return nil
}

// Search returns up to k hits ascending by cosine distance, restricted by
// filter when non-nil.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.keys) == 0 {
		return nil, nil
	}
	hits := make([]Hit, 0, len(m.keys))
	for i, vec := range m.vectors {
		if filter != nil && !filter(m.keys[i]) {
			continue
		}
		hits = append(hits, Hit{Key: m.keys[i], Distance: CosineDistance(query, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Has reports whether key is present.
func (m *MemoryIndex) Has(key int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pos[key]
	return ok
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Save persists the index to path. Directory is created if needed.
// Format: dimensions (4), n (4), then per entry: key (8), vector
// (dimensions*4), all little-endian.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(m.keys))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, key := range m.keys {
		if err := binary.Write(f, binary.LittleEndian, key); err != nil {
			return fmt.Errorf("write key: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path, replacing the in-memory contents.
// Dimensions must match. A missing file leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = make([]int64, 0, n)
	m.vectors = make([][]float32, 0, n)
	m.pos = make(map[int64]int, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var key int64
		if err := binary.Read(f, binary.LittleEndian, &key); err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		m.pos[key] = len(m.keys)
		m.keys = append(m.keys, key)
		m.vectors = append(m.vectors, bytesToFloat32Slice(buf))
	}
	return nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
