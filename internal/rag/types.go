package rag

import (
	"fmt"
	"strings"

	"repo-advisor/internal/document"
	"repo-advisor/internal/vectorstore"
)

// Reference identifies a chunk that was handed to the generator.
type Reference struct {
	// Path is the file the chunk came from (e.g., "README.md").
	Path string `json:"path"`
	// ChunkIndex is the chunk index within the file.
	ChunkIndex int `json:"chunk_index"`
	// Score is the similarity to the retrieval query.
	Score float32 `json:"score"`
}

// References converts search results into references, keeping their order.
func References(results []vectorstore.SearchResult) []Reference {
	refs := make([]Reference, len(results))
	for i, res := range results {
		refs[i] = Reference{Path: res.Chunk.Path, ChunkIndex: res.Chunk.Index, Score: res.Score}
	}
	return refs
}

// FormatContext renders chunks as the context block of a prompt.
func FormatContext(chunks []document.Chunk) string {
	var b strings.Builder
	b.WriteString("--- Context from repository ---\n\n")
	for _, chunk := range chunks {
		fmt.Fprintf(&b, "File: %s (chunk %d)\n", chunk.Path, chunk.Index)
		fmt.Fprintf(&b, "Content: %s\n\n", chunk.Text)
	}
	b.WriteString("--- End Context ---")
	return b.String()
}
