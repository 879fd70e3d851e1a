package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/contextutil"
	"repo-advisor/internal/service"
)

// maxRequestBytes bounds the request body.
const maxRequestBytes = 64 << 10

// AnalyzeHandler handles HTTP requests for repository analysis.
type AnalyzeHandler struct {
	analysisService service.AnalysisService
}

// NewAnalyzeHandler creates a new AnalyzeHandler.
func NewAnalyzeHandler(analysisService service.AnalysisService) *AnalyzeHandler {
	return &AnalyzeHandler{
		analysisService: analysisService,
	}
}

// AnalyzeRequest represents the HTTP request payload for analysis.
type AnalyzeRequest struct {
	RepoURL string `json:"repo_url"`
	K       int    `json:"k,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error    string   `json:"error"`
	Details  string   `json:"details,omitempty"`
	Stage    string   `json:"stage,omitempty"`
	Category string   `json:"category,omitempty"`
	Fields   []string `json:"fields,omitempty"`
}

// ServeHTTP handles HTTP requests for analysis.
//
// swagger:route POST /api/v1/analyze analyzeRepository
//
// Clones the repository, indexes its documentation and returns suggested
// title, summary, README edits and metadata.
func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "Method not allowed"})
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}
	if req.K < 0 {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid input", Details: "k must not be negative"})
		return
	}

	resp, err := h.analysisService.Analyze(ctx, service.AnalyzeRequest{RepoURL: req.RepoURL, K: req.K})
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// handleServiceError maps service errors to HTTP status codes and responses.
func handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	category := apperr.CategoryOf(err)
	resp := ErrorResponse{
		Details:  err.Error(),
		Category: category,
	}
	var stageErr *apperr.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = stageErr.Stage
	}

	var status int
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		status = http.StatusBadRequest
		resp.Error = "Invalid input"
	case category == apperr.CategorySetup:
		status = http.StatusUnprocessableEntity
		resp.Error = "Repository could not be acquired"
	case category == apperr.CategoryData:
		status = http.StatusBadGateway
		resp.Error = "Model output failed validation"
		resp.Fields = apperr.ValidationFields(err)
	case category == apperr.CategoryModel:
		status = http.StatusBadGateway
		resp.Error = "Model service error"
	case category == apperr.CategoryCancelled:
		status = http.StatusServiceUnavailable
		resp.Error = "Request cancelled"
	default:
		status = http.StatusInternalServerError
		resp.Error = "Failed to analyze repository"
	}

	logger.ErrorContext(ctx, "service error", "status", status, "category", category, "stage", resp.Stage, "error", err)
	writeError(w, status, resp)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
