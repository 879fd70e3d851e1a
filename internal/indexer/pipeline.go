package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/document"
	"repo-advisor/internal/observability"
	"repo-advisor/internal/vectorstore"
)

// DefaultWorkers is the number of concurrent embedding requests used when none is configured.
const DefaultWorkers = 4

// ProgressFunc receives the number of chunks embedded so far and the total.
type ProgressFunc func(done, total int)

// Pipeline embeds chunks and loads them into a vector index.
type Pipeline struct {
	embedder Embedder
	backend  vectorstore.Backend
	workers  int
	progress ProgressFunc
}

// NewPipeline creates a new indexing pipeline. workers <= 0 selects DefaultWorkers.
func NewPipeline(embedder Embedder, backend vectorstore.Backend, workers int) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{
		embedder: embedder,
		backend:  backend,
		workers:  workers,
	}
}

// OnProgress registers a callback invoked after each chunk is embedded.
// Calls are serialized and done is strictly increasing.
func (p *Pipeline) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

// Embedder returns the embedder used for chunk vectors.
func (p *Pipeline) Embedder() Embedder {
	return p.embedder
}

// Build embeds every chunk and loads the entries, in chunk order, into a new index.
// Either every chunk is indexed or an error is returned and no index exists.
func (p *Pipeline) Build(ctx context.Context, chunks []document.Chunk) (vectorstore.Index, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	ctx, span := observability.StartIndexSpan(ctx, len(chunks), p.workers)
	defer span.End()

	dim := p.embedder.Dimension()
	entries := make([]vectorstore.Entry, len(chunks))

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, chunk := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := p.embedChunk(gctx, chunk, dim)
			if err != nil {
				return err
			}
			entries[i] = vectorstore.Entry{Chunk: chunk, Vector: vec}

			if p.progress != nil {
				mu.Lock()
				done++
				p.progress(done, len(chunks))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A cancelled group context surfaces the caller's cancellation, if any.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		observability.RecordError(span, err)
		logger.ErrorContext(ctx, "index build failed", "chunks", len(chunks), "error", err)
		return nil, err
	}

	idx, err := p.backend.Load(ctx, dim, entries)
	if err != nil {
		err = fmt.Errorf("failed to load index: %w", err)
		observability.RecordError(span, err)
		return nil, err
	}

	elapsed := time.Since(start)
	observability.RecordDuration(span, elapsed)
	logger.InfoContext(ctx, "index built",
		"chunks", len(chunks),
		"dimension", dim,
		"workers", p.workers,
		"duration_ms", elapsed.Milliseconds(),
	)
	return idx, nil
}

func (p *Pipeline) embedChunk(ctx context.Context, chunk document.Chunk, dim int) ([]float32, error) {
	vec, err := p.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		if errors.Is(err, apperr.ErrEmbeddingUnavailable) || errors.Is(err, apperr.ErrEmbeddingFailed) {
			return nil, fmt.Errorf("chunk %s#%d: %w", chunk.Path, chunk.Index, err)
		}
		return nil, fmt.Errorf("%w: chunk %s#%d: %w", apperr.ErrEmbeddingFailed, chunk.Path, chunk.Index, err)
	}
	if len(vec) != dim {
		return nil, fmt.Errorf("%w: chunk %s#%d has dimension %d, expected %d",
			apperr.ErrIndex, chunk.Path, chunk.Index, len(vec), dim)
	}
	return vec, nil
}
