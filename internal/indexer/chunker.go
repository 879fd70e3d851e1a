package indexer

import (
	"fmt"

	"repo-advisor/internal/apperr"
	"repo-advisor/internal/document"
)

const (
	DefaultChunkSize    = 1000 // Max runes per chunk
	DefaultChunkOverlap = 200  // Max runes carried over between consecutive chunks
)

// defaultSeparators is ordered coarsest first. The empty separator means a hard split
// at the character boundary.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveChunker splits documents on progressively finer separators and merges the
// resulting units into overlapping chunks of bounded size.
type RecursiveChunker struct {
	maxSize    int
	overlap    int
	separators [][]rune
}

// NewRecursiveChunker creates a chunker producing chunks of at most maxSize runes with
// at most overlap runes shared between neighbours.
func NewRecursiveChunker(maxSize, overlap int) (*RecursiveChunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be greater than 0, got %d", apperr.ErrInvalidInput, maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", apperr.ErrInvalidInput, overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", apperr.ErrInvalidInput, overlap, maxSize)
	}

	separators := make([][]rune, len(defaultSeparators))
	for i, sep := range defaultSeparators {
		separators[i] = []rune(sep)
	}

	return &RecursiveChunker{
		maxSize:    maxSize,
		overlap:    overlap,
		separators: separators,
	}, nil
}

// MaxSize returns the maximum chunk length in runes.
func (c *RecursiveChunker) MaxSize() int {
	return c.maxSize
}

// Overlap returns the maximum overlap between consecutive chunks in runes.
func (c *RecursiveChunker) Overlap() int {
	return c.overlap
}

// Split splits every document in order and returns the concatenated chunk sequence.
// The same input always yields the same output.
func (c *RecursiveChunker) Split(docs []document.Document) []document.Chunk {
	var chunks []document.Chunk
	for _, doc := range docs {
		chunks = append(chunks, c.SplitDocument(doc)...)
	}
	return chunks
}

// SplitDocument splits a single document. An empty document yields no chunks; a document
// that fits in one chunk yields exactly one chunk without overlap.
func (c *RecursiveChunker) SplitDocument(doc document.Document) []document.Chunk {
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	var spans []span
	if len(runes) <= c.maxSize {
		spans = []span{{start: 0, end: len(runes)}}
	} else {
		spans = c.merge(c.units(runes, 0, len(runes), 0))
	}

	chunks := make([]document.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = document.Chunk{
			Path:   doc.Path,
			Index:  i,
			Start:  s.start,
			Length: s.end - s.start,
			Text:   string(runes[s.start:s.end]),
		}
	}
	return chunks
}

// span is a half-open rune range [start, end).
type span struct {
	start int
	end   int
}

// units decomposes runes[start:end] into consecutive spans of at most maxSize runes.
// Separators stay attached to the unit before them, so the units tile the range exactly.
func (c *RecursiveChunker) units(runes []rune, start, end, level int) []span {
	if end-start <= c.maxSize {
		return []span{{start: start, end: end}}
	}

	sep := c.separators[level]
	if len(sep) == 0 {
		out := make([]span, 0, (end-start)/c.maxSize+1)
		for s := start; s < end; s += c.maxSize {
			out = append(out, span{start: s, end: min(s+c.maxSize, end)})
		}
		return out
	}

	var out []span
	pieceStart := start
	for i := start; i+len(sep) <= end; {
		if !hasRunePrefix(runes[i:end], sep) {
			i++
			continue
		}
		pieceEnd := i + len(sep)
		out = append(out, c.units(runes, pieceStart, pieceEnd, level+1)...)
		pieceStart = pieceEnd
		i = pieceEnd
	}
	if pieceStart < end {
		out = append(out, c.units(runes, pieceStart, end, level+1)...)
	}
	return out
}

// merge greedily packs units into chunks. When the next unit does not fit, the current
// chunk is emitted and the next one starts with the emitted chunk's trailing overlap,
// shrunk so that the overlap plus the unit still fits maxSize.
func (c *RecursiveChunker) merge(units []span) []span {
	var out []span
	cur := units[0]
	for _, u := range units[1:] {
		if u.end-cur.start <= c.maxSize {
			cur.end = u.end
			continue
		}
		out = append(out, cur)
		start := max(cur.end-c.overlap, u.end-c.maxSize, cur.start)
		cur = span{start: start, end: u.end}
	}
	return append(out, cur)
}

func hasRunePrefix(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}
