package indexer

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks repo-advisor/internal/indexer Embedder

import "context"

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	// Embed returns the vector for text. Implementations return an error wrapping
	// apperr.ErrEmbeddingUnavailable when the model cannot be loaded and
	// apperr.ErrEmbeddingFailed when this input could not be embedded.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the length of every vector produced by Embed.
	Dimension() int
}
