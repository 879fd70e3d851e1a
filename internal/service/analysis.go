package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_llm_client.go -package=mocks repo-advisor/internal/service LLMClient
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_analysis_service.go -package=mocks -mock_names=AnalysisService=MockAnalysisService repo-advisor/internal/service AnalysisService

import (
	"context"
	"fmt"
	"strings"
	"time"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/document"
	"repo-advisor/internal/indexer"
	"repo-advisor/internal/llm"
	"repo-advisor/internal/pipeline"
	"repo-advisor/internal/rag"
	"repo-advisor/internal/vectorstore"
	"repo-advisor/internal/workspace"
)

// Stage names.
const (
	StageAnalyzeRepo       = "analyze_repo"
	StageRecommendMetadata = "recommend_metadata"
	StageImproveContent    = "improve_content"
)

// State fields.
const (
	FieldRepoURL         = "repo_url"
	FieldDocuments       = "documents"
	FieldChunks          = "chunks"
	FieldOriginalContent = "original_content"
	FieldRetriever       = "retriever"
	FieldIndexStats      = "index_stats"
	FieldMetadata        = "metadata"
	FieldImprovedContent = "improved_content"
)

// LLMClient is an interface for interacting with an LLM API.
// This interface is defined from the service layer's perspective (consumer-first).
type LLMClient interface {
	// ChatWithMessages sends a conversation and returns the assistant reply.
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, error)
}

// AnalyzeRequest represents an analysis request in the domain layer.
type AnalyzeRequest struct {
	RepoURL string
	K       int // Chunks retrieved for generation; <= 0 uses the configured default
}

// AnalyzeResponse is the final result of a run.
type AnalyzeResponse struct {
	RepoURL    string                 `json:"repo_url"`
	Title      string                 `json:"title"`
	Summary    string                 `json:"summary"`
	Edits      []string               `json:"edits"`
	Metadata   Metadata               `json:"metadata"`
	Stats      indexer.IndexStats     `json:"stats"`
	References []rag.Reference        `json:"references"`
	Stages     []pipeline.StageReport `json:"stages"`
	DurationMS int64                  `json:"duration_ms"`
}

// AnalysisService analyzes a repository and suggests documentation improvements.
type AnalysisService interface {
	// Analyze runs every stage for one repository. Failures are *apperr.StageError values.
	Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error)
}

// Options tunes an analysis service.
type Options struct {
	RetrievalK     int
	EmbeddingModel string // Recorded in index stats
	LLMModel       string // Empty uses the client's default
	Temperature    float32
	MaxTokens      int
	Observer       pipeline.Observer
}

// analysisService implements AnalysisService.
type analysisService struct {
	workspaces   *workspace.Manager
	chunker      *indexer.RecursiveChunker
	builder      *indexer.Pipeline
	outline      *indexer.OutlineParser
	llmClient    LLMClient
	orchestrator *pipeline.Orchestrator
	opts         Options
}

// NewAnalysisService creates a new AnalysisService.
func NewAnalysisService(
	workspaces *workspace.Manager,
	chunker *indexer.RecursiveChunker,
	builder *indexer.Pipeline,
	llmClient LLMClient,
	opts Options,
) AnalysisService {
	if opts.RetrievalK <= 0 {
		opts.RetrievalK = rag.DefaultK
	}
	return &analysisService{
		workspaces:   workspaces,
		chunker:      chunker,
		builder:      builder,
		outline:      indexer.NewOutlineParser(),
		llmClient:    llmClient,
		orchestrator: pipeline.NewOrchestrator(opts.Observer),
		opts:         opts,
	}
}

// run holds the resources owned by one Analyze call.
type run struct {
	ws    *workspace.Workspace
	index vectorstore.Index
	k     int
}

// Analyze runs analyze_repo, recommend_metadata and improve_content in order. The
// workspace and the index are released before Analyze returns, on every path.
func (s *analysisService) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := time.Now()

	repoURL := strings.TrimSpace(req.RepoURL)
	if repoURL == "" {
		logger.WarnContext(ctx, "empty repository URL in analyze request")
		return AnalyzeResponse{}, fmt.Errorf("%w: repo_url is required", apperr.ErrInvalidInput)
	}

	r := &run{k: req.K}
	if r.k <= 0 {
		r.k = s.opts.RetrievalK
	}

	ws, err := s.workspaces.Acquire(ctx)
	if err != nil {
		return AnalyzeResponse{}, &apperr.StageError{Stage: StageAnalyzeRepo, Err: err}
	}
	r.ws = ws
	defer func() {
		if err := s.workspaces.Release(context.WithoutCancel(ctx), ws); err != nil {
			logger.ErrorContext(ctx, "failed to release workspace", "workspace_id", ws.ID, "error", err)
		}
	}()
	defer func() {
		if r.index == nil {
			return
		}
		if err := r.index.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "failed to close index", "error", err)
		}
	}()

	logger = logger.With("workspace_id", ws.ID, "repo_url", repoURL)
	ctx = contextutil.WithLogger(ctx, logger)

	state, reports, err := s.orchestrator.RunWithReport(ctx, s.stages(r), pipeline.State{FieldRepoURL: repoURL})
	if err != nil {
		logger.ErrorContext(ctx, "analysis failed", "category", apperr.CategoryOf(err), "error", err)
		return AnalyzeResponse{}, err
	}

	resp, err := buildResponse(repoURL, state)
	if err != nil {
		return AnalyzeResponse{}, err
	}
	resp.Stages = reports
	resp.DurationMS = time.Since(start).Milliseconds()

	logger.InfoContext(ctx, "analysis completed",
		"chunks", resp.Stats.ChunksEmbedded,
		"edits", len(resp.Edits),
		"duration_ms", resp.DurationMS,
	)
	return resp, nil
}

func (s *analysisService) stages(r *run) []pipeline.Stage {
	return []pipeline.Stage{
		{
			Name:     StageAnalyzeRepo,
			Requires: []string{FieldRepoURL},
			Produces: []string{FieldDocuments, FieldChunks, FieldOriginalContent, FieldRetriever, FieldIndexStats},
			Handler:  s.analyzeRepo(r),
		},
		{
			Name:     StageRecommendMetadata,
			Requires: []string{FieldRepoURL, FieldDocuments, FieldOriginalContent},
			Produces: []string{FieldMetadata},
			Handler:  s.recommendMetadata,
		},
		{
			Name:     StageImproveContent,
			Requires: []string{FieldOriginalContent, FieldMetadata, FieldRetriever},
			Produces: []string{FieldImprovedContent},
			Handler:  s.improveContent(r),
		},
	}
}

// analyzeRepo materializes the repository, chunks it and builds the retrieval index.
func (s *analysisService) analyzeRepo(r *run) pipeline.Handler {
	return func(ctx context.Context, state pipeline.State) (pipeline.State, error) {
		repoURL, err := pipeline.Value[string](state, FieldRepoURL)
		if err != nil {
			return nil, err
		}

		docs, err := s.workspaces.Materialize(ctx, r.ws, repoURL)
		if err != nil {
			return nil, fmt.Errorf("failed to materialize repository: %w", err)
		}

		chunks := s.chunker.Split(docs)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("%w: no content found in %s (looked for %s)",
				apperr.ErrAcquisition, repoURL, strings.Join(s.workspaces.AllowedFiles(), ", "))
		}

		index, err := s.builder.Build(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("failed to build index: %w", err)
		}
		r.index = index

		embedder := s.builder.Embedder()
		stats := indexer.ComputeStats(docs, chunks, indexer.StatsParams{
			Dimension:    embedder.Dimension(),
			Model:        s.opts.EmbeddingModel,
			ChunkSize:    s.chunker.MaxSize(),
			ChunkOverlap: s.chunker.Overlap(),
		})

		return pipeline.State{
			FieldDocuments:       docs,
			FieldChunks:          chunks,
			FieldOriginalContent: joinChunks(chunks),
			FieldRetriever:       rag.NewRetriever(embedder, index),
			FieldIndexStats:      stats,
		}, nil
	}
}

// recommendMetadata combines the README outline with model-suggested tags.
func (s *analysisService) recommendMetadata(ctx context.Context, state pipeline.State) (pipeline.State, error) {
	logger := contextutil.LoggerFromContext(ctx)

	repoURL, err := pipeline.Value[string](state, FieldRepoURL)
	if err != nil {
		return nil, err
	}
	docs, err := pipeline.Value[[]document.Document](state, FieldDocuments)
	if err != nil {
		return nil, err
	}
	content, err := pipeline.Value[string](state, FieldOriginalContent)
	if err != nil {
		return nil, err
	}

	meta := outlineMetadata(s.outline, docs, repoURL)

	reply, err := s.llmClient.ChatWithMessages(ctx, buildMetadataMessages(content, meta), s.chatParams())
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata suggestions: %w", err)
	}

	var suggestion metadataSuggestion
	if err := decodeResponse(reply, &suggestion); err != nil {
		return nil, err
	}
	if err := suggestion.Validate(); err != nil {
		return nil, err
	}

	meta.Description = strings.TrimSpace(suggestion.Description)
	meta.Keywords = normalizeKeywords(suggestion.Keywords)
	meta.Topics = normalizeTopics(suggestion.Topics)
	meta.Audience = strings.TrimSpace(suggestion.Audience)

	logger.InfoContext(ctx, "metadata suggested",
		"keywords", len(meta.Keywords),
		"topics", len(meta.Topics),
		"missing_sections", meta.MissingSections,
	)
	return pipeline.State{FieldMetadata: meta}, nil
}

// improveContent asks the model for suggestions grounded in retrieved context.
func (s *analysisService) improveContent(r *run) pipeline.Handler {
	return func(ctx context.Context, state pipeline.State) (pipeline.State, error) {
		content, err := pipeline.Value[string](state, FieldOriginalContent)
		if err != nil {
			return nil, err
		}
		meta, err := pipeline.Value[Metadata](state, FieldMetadata)
		if err != nil {
			return nil, err
		}
		retriever, err := pipeline.Value[*rag.Retriever](state, FieldRetriever)
		if err != nil {
			return nil, err
		}

		results, err := retriever.Search(ctx, ImprovementQuery, r.k)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve context: %w", err)
		}
		chunks := make([]document.Chunk, len(results))
		for i, res := range results {
			chunks[i] = res.Chunk
		}

		messages := buildImproveMessages(rag.FormatContext(chunks), content, meta)
		reply, err := s.llmClient.ChatWithMessages(ctx, messages, s.chatParams())
		if err != nil {
			return nil, fmt.Errorf("failed to get content suggestions: %w", err)
		}

		var suggestions Suggestions
		if err := decodeResponse(reply, &suggestions); err != nil {
			return nil, err
		}
		if err := suggestions.Validate(); err != nil {
			return nil, err
		}

		return pipeline.State{
			FieldImprovedContent: Improvement{
				Suggestions: suggestions,
				References:  rag.References(results),
			},
		}, nil
	}
}

func (s *analysisService) chatParams() llm.ChatParams {
	return llm.ChatParams{
		Model:       s.opts.LLMModel,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
		JSONMode:    true,
	}
}

func buildResponse(repoURL string, state pipeline.State) (AnalyzeResponse, error) {
	improvement, err := pipeline.Value[Improvement](state, FieldImprovedContent)
	if err != nil {
		return AnalyzeResponse{}, err
	}
	meta, err := pipeline.Value[Metadata](state, FieldMetadata)
	if err != nil {
		return AnalyzeResponse{}, err
	}
	stats, err := pipeline.Value[indexer.IndexStats](state, FieldIndexStats)
	if err != nil {
		return AnalyzeResponse{}, err
	}

	return AnalyzeResponse{
		RepoURL:    repoURL,
		Title:      strings.TrimSpace(improvement.Suggestions.Title),
		Summary:    strings.TrimSpace(improvement.Suggestions.Summary),
		Edits:      improvement.Suggestions.Edits,
		Metadata:   meta,
		Stats:      stats,
		References: improvement.References,
	}, nil
}

// joinChunks concatenates chunk texts separated by blank lines.
func joinChunks(chunks []document.Chunk) string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n")
}
