package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
)

// MemoryBackend builds in-process indexes searched by linear scan.
type MemoryBackend struct{}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load validates and copies entries into a new MemoryIndex.
func (b *MemoryBackend) Load(ctx context.Context, dimension int, entries []Entry) (Index, error) {
	idx, err := NewMemoryIndex(dimension, entries)
	if err != nil {
		return nil, err
	}
	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "memory index loaded", "entries", idx.Size(), "dimension", dimension)
	return idx, nil
}

// MemoryIndex is a brute-force cosine similarity index.
type MemoryIndex struct {
	dimension int
	entries   []Entry
	norms     []float64
}

// NewMemoryIndex creates an index over entries. Every vector must have the given dimension.
func NewMemoryIndex(dimension int, entries []Entry) (*MemoryIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be greater than 0, got %d", apperr.ErrIndex, dimension)
	}

	idx := &MemoryIndex{
		dimension: dimension,
		entries:   make([]Entry, len(entries)),
		norms:     make([]float64, len(entries)),
	}
	for i, e := range entries {
		if len(e.Vector) != dimension {
			return nil, fmt.Errorf("%w: entry %d (%s#%d) has dimension %d, expected %d",
				apperr.ErrIndex, i, e.Chunk.Path, e.Chunk.Index, len(e.Vector), dimension)
		}
		vec := make([]float32, dimension)
		copy(vec, e.Vector)
		idx.entries[i] = Entry{Chunk: e.Chunk, Vector: vec}
		idx.norms[i] = norm(vec)
	}
	return idx, nil
}

// Query scans every entry and returns the top k by cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be greater than 0", apperr.ErrInvalidInput)
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, expected %d", apperr.ErrIndex, len(vector), m.dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qNorm := norm(vector)
	results := make([]SearchResult, len(m.entries))
	for i, e := range m.entries {
		results[i] = SearchResult{
			Chunk: e.Chunk,
			Score: cosine(vector, qNorm, e.Vector, m.norms[i]),
		}
	}

	// Stable sort keeps insertion order among equal scores
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Size returns the number of indexed entries.
func (m *MemoryIndex) Size() int {
	return len(m.entries)
}

// Dimension returns the vector dimensionality.
func (m *MemoryIndex) Dimension() int {
	return m.dimension
}

// Close is a no-op for in-memory indexes.
func (m *MemoryIndex) Close(context.Context) error {
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector has zero length.
func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float32 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (aNorm * bNorm))
}
