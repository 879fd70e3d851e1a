package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/document"
	"repo-advisor/internal/indexer/mocks"
	"repo-advisor/internal/vectorstore"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testIndex(t *testing.T) vectorstore.Index {
	t.Helper()
	idx, err := vectorstore.NewMemoryIndex(3, []vectorstore.Entry{
		{Chunk: document.Chunk{Path: "README.md", Index: 0, Text: "# Tool"}, Vector: []float32{1, 0, 0}},
		{Chunk: document.Chunk{Path: "README.md", Index: 1, Text: "## Usage"}, Vector: []float32{0, 1, 0}},
		{Chunk: document.Chunk{Path: "setup.py", Index: 0, Text: "setup()"}, Vector: []float32{0.7, 0.7, 0}},
	})
	if err != nil {
		t.Fatalf("NewMemoryIndex() error = %v", err)
	}
	return idx
}

func TestRetriever_Retrieve(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().Embed(gomock.Any(), "how do I use it").Return([]float32{0, 1, 0}, nil)

	r := NewRetriever(embedder, testIndex(t))
	chunks, err := r.Retrieve(context.Background(), "how do I use it", 2)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Retrieve() returned %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text != "## Usage" || chunks[1].Path != "setup.py" {
		t.Errorf("Retrieve() = %+v", chunks)
	}
}

func TestRetriever_Errors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		k       int
		embed   func(*mocks.MockEmbedder)
		wantErr error
	}{
		{
			name:    "empty query",
			query:   "  ",
			k:       4,
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name:    "non-positive k",
			query:   "usage",
			k:       0,
			wantErr: apperr.ErrInvalidInput,
		},
		{
			name:  "embedding fails",
			query: "usage",
			k:     4,
			embed: func(m *mocks.MockEmbedder) {
				m.EXPECT().Embed(gomock.Any(), "usage").Return(nil, apperr.ErrEmbeddingFailed)
			},
			wantErr: apperr.ErrEmbeddingFailed,
		},
		{
			name:  "wrong query dimension",
			query: "usage",
			k:     4,
			embed: func(m *mocks.MockEmbedder) {
				m.EXPECT().Embed(gomock.Any(), "usage").Return([]float32{1, 0}, nil)
			},
			wantErr: apperr.ErrIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			embedder := mocks.NewMockEmbedder(ctrl)
			if tt.embed != nil {
				tt.embed(embedder)
			}

			_, err := NewRetriever(embedder, testIndex(t)).Retrieve(context.Background(), tt.query, tt.k)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Retrieve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetriever_SearchReferences(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1, 0, 0}, nil)

	results, err := NewRetriever(embedder, testIndex(t)).Search(context.Background(), "tool", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	refs := References(results)
	if len(refs) != 3 {
		t.Fatalf("References() len = %d, want 3", len(refs))
	}
	if refs[0].Path != "README.md" || refs[0].ChunkIndex != 0 || refs[0].Score < 0.999 {
		t.Errorf("refs[0] = %+v", refs[0])
	}
}

func TestFormatContext(t *testing.T) {
	got := FormatContext([]document.Chunk{
		{Path: "README.md", Index: 0, Text: "# Tool"},
		{Path: "setup.py", Index: 2, Text: "setup()"},
	})

	for _, want := range []string{
		"--- Context from repository ---",
		"File: README.md (chunk 0)\nContent: # Tool",
		"File: setup.py (chunk 2)\nContent: setup()",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatContext() missing %q in:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "--- End Context ---") {
		t.Errorf("FormatContext() should end with the closing marker")
	}
}
