package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"repo-advisor/internal/document"
)

const (
	// ChunkerVersion is the version identifier for the chunker implementation.
	// Update this when chunking logic changes significantly.
	ChunkerVersion = "recursive-v1"
	// TokensPerRune is an approximation for token counting (4 chars per token).
	TokensPerRune = 4.0
)

// IndexStats contains statistics about one index build.
type IndexStats struct {
	// DocsProcessed is the total number of documents processed.
	DocsProcessed int `json:"docs_processed"`
	// DocsWithoutChunks is the number of documents that produced 0 chunks.
	DocsWithoutChunks int `json:"docs_without_chunks"`
	// ChunksEmbedded is the number of chunks embedded and indexed.
	ChunksEmbedded int `json:"chunks_embedded"`
	// Dimension is the embedding vector size.
	Dimension int `json:"dimension"`
	// ChunkTokenStats contains statistics about token counts per chunk.
	ChunkTokenStats ChunkTokenStats `json:"chunk_token_stats"`
	// ChunkerVersion is the version of the chunker used.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion is a hash identifying the index build (chunker + embedding model + params).
	IndexVersion string `json:"index_version"`
}

// ChunkTokenStats contains statistics about token counts in chunks.
type ChunkTokenStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

// StatsParams identifies the configuration an index was built with.
type StatsParams struct {
	Dimension    int
	Model        string
	ChunkSize    int
	ChunkOverlap int
}

// ComputeStats summarizes a build over docs that produced chunks.
func ComputeStats(docs []document.Document, chunks []document.Chunk, params StatsParams) IndexStats {
	stats := IndexStats{
		DocsProcessed:  len(docs),
		ChunksEmbedded: len(chunks),
		Dimension:      params.Dimension,
		ChunkerVersion: ChunkerVersion,
	}

	withChunks := make(map[string]bool, len(docs))
	tokenCounts := make([]int, 0, len(chunks))
	for _, chunk := range chunks {
		withChunks[chunk.Path] = true
		tokenCounts = append(tokenCounts, estimateTokens(chunk.Text))
	}
	for _, doc := range docs {
		if !withChunks[doc.Path] {
			stats.DocsWithoutChunks++
		}
	}
	stats.ChunkTokenStats = computeTokenStats(tokenCounts)

	indexVersionInput := fmt.Sprintf("%s|%s|chunkSize=%d|chunkOverlap=%d|dim=%d",
		ChunkerVersion, params.Model, params.ChunkSize, params.ChunkOverlap, params.Dimension)
	hash := sha256.Sum256([]byte(indexVersionInput))
	stats.IndexVersion = hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits

	return stats
}

// estimateTokens approximates the token count from the rune count, minimum 1.
func estimateTokens(text string) int {
	tokens := int(math.Round(float64(utf8.RuneCountInString(text)) / TokensPerRune))
	return max(tokens, 1)
}

// computeTokenStats computes min, max, mean, and p95 from token counts.
func computeTokenStats(tokenCounts []int) ChunkTokenStats {
	if len(tokenCounts) == 0 {
		return ChunkTokenStats{}
	}

	sorted := make([]int, len(tokenCounts))
	copy(sorted, tokenCounts)
	sort.Ints(sorted)

	sum := 0
	for _, count := range tokenCounts {
		sum += count
	}
	mean := float64(sum) / float64(len(tokenCounts))

	p95Index := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	p95Index = min(max(p95Index, 0), len(sorted)-1)

	return ChunkTokenStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // Round to 2 decimal places
		P95:  sorted[p95Index],
	}
}
