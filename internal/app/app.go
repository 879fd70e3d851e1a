// Package app wires configuration into a ready-to-use analysis service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"repo-advisor/internal/config"
	"repo-advisor/internal/handlers"
	"repo-advisor/internal/indexer"
	"repo-advisor/internal/llm"
	"repo-advisor/internal/pipeline"
	"repo-advisor/internal/service"
	"repo-advisor/internal/vectorstore"
	"repo-advisor/internal/workspace"
)

// App holds the components shared by the API server and the CLI.
type App struct {
	Service      service.AnalysisService
	Indexer      *indexer.Pipeline
	Chunker      *indexer.RecursiveChunker
	Workspaces   *workspace.Manager
	HealthChecks map[string]handlers.Pinger

	closers []func() error
}

// Options customizes wiring beyond what Config covers.
type Options struct {
	// Source overrides the git source, e.g. with a DirSource for local checkouts.
	Source workspace.Source
	// AllowLocalRepos lets the git source clone file:// URLs. The API server leaves it off.
	AllowLocalRepos bool
	Observer        pipeline.Observer
}

// New builds every component named by cfg.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{HealthChecks: make(map[string]handlers.Pinger)}

	embedder, err := a.newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := a.newBackend(cfg)
	if err != nil {
		return nil, err
	}

	chatClient, err := newLLMClient(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	chunker, err := indexer.NewRecursiveChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	source := opts.Source
	if source == nil {
		git := workspace.NewGitSource(cfg.GitPath, cfg.AcquisitionTimeout)
		if opts.AllowLocalRepos {
			git.WithLocalRepos()
		}
		source = git
	}
	workspaces := workspace.NewManager(workspace.Config{
		BaseDir:      cfg.WorkspaceDir,
		AllowedFiles: cfg.Pipeline.AllowedFiles,
		MaxFileBytes: cfg.MaxFileBytes,
	}, source)

	builder := indexer.NewPipeline(embedder, backend, cfg.Pipeline.EmbedWorkers)

	a.Chunker = chunker
	a.Indexer = builder
	a.Workspaces = workspaces
	a.Service = service.NewAnalysisService(workspaces, chunker, builder, chatClient, service.Options{
		RetrievalK:     cfg.Pipeline.RetrievalK,
		EmbeddingModel: cfg.EmbeddingModelName,
		LLMModel:       cfg.LLMModelName,
		Temperature:    cfg.LLMTemperature,
		Observer:       opts.Observer,
	})

	slog.Info("Analysis service initialized",
		"llm_provider", cfg.LLMProvider,
		"embedding_provider", cfg.EmbeddingProvider,
		"index_backend", cfg.IndexBackend,
		"dimension", cfg.EmbeddingDimension,
	)
	return a, nil
}

func (a *App) newEmbedder(cfg *config.Config) (indexer.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderHash:
		return llm.NewHashEmbedder(cfg.EmbeddingDimension), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDimension, cfg.EmbeddingTimeout), nil
	case config.ProviderLlamaCpp:
		client := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDimension, cfg.EmbeddingTimeout)
		if cfg.EmbeddingAutoload {
			client.EnableAutoload(llm.NewModelLoader(cfg.EmbeddingBaseURL, cfg.EmbeddingTimeout), nil)
		}
		a.HealthChecks["embedding"] = client
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

func (a *App) newBackend(cfg *config.Config) (vectorstore.Backend, error) {
	switch cfg.IndexBackend {
	case config.BackendMemory:
		return vectorstore.NewMemoryBackend(), nil
	case config.BackendQdrant:
		backend, err := vectorstore.NewQdrantBackend(cfg.QdrantURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
		}
		a.HealthChecks["vector_store"] = backend
		a.closers = append(a.closers, backend.Close)
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}
}

func newLLMClient(cfg *config.Config) (service.LLMClient, error) {
	switch cfg.LLMProvider {
	case config.ProviderLlamaCpp:
		return llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName, cfg.LLMTimeout), nil
	case config.ProviderOpenAI:
		return llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName, cfg.LLMTimeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

// CheckHealth pings every configured dependency and returns the first failure.
func (a *App) CheckHealth(ctx context.Context) error {
	for name, p := range a.HealthChecks {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
