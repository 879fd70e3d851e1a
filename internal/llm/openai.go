package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/observability"
)

func newOpenAIClient(baseURL, apiKey string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = newHTTPClient(timeout)
	return openai.NewClientWithConfig(cfg)
}

// OpenAIClient generates chat completions through any OpenAI-compatible API
// (OpenAI, OpenRouter, vLLM).
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a chat client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		client: newOpenAIClient(baseURL, apiKey, timeout),
		model:  model,
	}
}

// ChatWithMessages sends a chat completion request. Failures wrap apperr.ErrGeneration.
func (c *OpenAIClient) ChatWithMessages(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}

	ctx, span := observability.StartLLMSpan(ctx, "openai", model)
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	if params.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", apperr.ErrGeneration, model, err)
		observability.RecordError(span, err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: %s: no choices returned", apperr.ErrGeneration, model)
		observability.RecordError(span, err)
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIEmbedder embeds text through the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder creates an embedder producing vectors of dimension dim.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dim int, timeout time.Duration) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: newOpenAIClient(baseURL, apiKey, timeout),
		model:  model,
		dim:    dim,
	}
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		if isModelUnavailable(err) || isUnreachable(ctx, err) {
			return nil, fmt.Errorf("%w: %s: %w", apperr.ErrEmbeddingUnavailable, e.model, err)
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrEmbeddingFailed, err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data returned from API", apperr.ErrEmbeddingFailed)
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: embedding has size %d, expected %d", apperr.ErrEmbeddingFailed, len(vec), e.dim)
	}
	return vec, nil
}

// isModelUnavailable reports errors that no retry of the same input could fix:
// bad credentials or an unknown model.
func isModelUnavailable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized ||
			apiErr.HTTPStatusCode == http.StatusForbidden ||
			apiErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
