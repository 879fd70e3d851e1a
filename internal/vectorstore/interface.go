package vectorstore

import (
	"context"

	"repo-advisor/internal/document"
)

// Entry pairs a chunk with its embedding vector.
type Entry struct {
	Chunk  document.Chunk
	Vector []float32
}

// SearchResult represents a search result from vector search.
type SearchResult struct {
	Chunk document.Chunk
	Score float32 // Cosine similarity, higher is closer
}

// Index answers k-nearest-neighbor queries over a fixed set of entries.
// An Index is immutable once built and safe for concurrent queries.
type Index interface {
	// Query returns the min(k, Size()) entries closest to vector, ordered by score
	// descending with ties broken by insertion order.
	Query(ctx context.Context, vector []float32, k int) ([]SearchResult, error)

	// Size returns the number of indexed entries.
	Size() int

	// Dimension returns the dimensionality shared by every vector in the index.
	Dimension() int

	// Close releases resources held by the index. Calling Close more than once is a no-op.
	Close(ctx context.Context) error
}

// Backend creates indexes. Load either indexes every entry or returns an error and
// leaves nothing behind.
type Backend interface {
	Load(ctx context.Context, dimension int, entries []Entry) (Index, error)
}
