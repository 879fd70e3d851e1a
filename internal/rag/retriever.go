package rag

import (
	"context"
	"fmt"
	"strings"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/document"
	"repo-advisor/internal/indexer"
	"repo-advisor/internal/vectorstore"
)

// DefaultK is the number of chunks retrieved when the caller does not choose.
const DefaultK = 4

// Retriever answers free-text queries with the most similar indexed chunks.
// It holds exactly one index and the embedder that built it.
type Retriever struct {
	embedder indexer.Embedder
	index    vectorstore.Index
}

// NewRetriever creates a retriever over index. embedder must be the one used to build it.
func NewRetriever(embedder indexer.Embedder, index vectorstore.Index) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
	}
}

// Index returns the underlying vector index.
func (r *Retriever) Index() vectorstore.Index {
	return r.index
}

// Retrieve returns up to k chunks most similar to query, most similar first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]document.Chunk, error) {
	results, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]document.Chunk, len(results))
	for i, res := range results {
		chunks[i] = res.Chunk
	}
	return chunks, nil
}

// Search is Retrieve with similarity scores.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]vectorstore.SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", apperr.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be greater than 0", apperr.ErrInvalidInput)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		logger.ErrorContext(ctx, "failed to embed query", "error", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	for i, res := range results {
		logger.DebugContext(ctx, "retrieved chunk",
			"rank", i+1,
			"score", res.Score,
			"path", res.Chunk.Path,
			"chunk_index", res.Chunk.Index,
			"text_length", res.Chunk.Length,
		)
	}
	logger.InfoContext(ctx, "chunks retrieved", "k", k, "results", len(results), "index_size", r.index.Size())
	return results, nil
}
