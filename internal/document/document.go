// Package document holds the immutable text artifacts that flow through indexing.
package document

// Document is a text file loaded from a repository workspace.
type Document struct {
	Path string // Relative path inside the repository (e.g., "README.md")
	Text string // Raw file content
	Size int    // Byte length of Text
}

// New creates a Document, deriving Size from text.
func New(path, text string) Document {
	return Document{
		Path: path,
		Text: text,
		Size: len(text),
	}
}

// Chunk is a contiguous span of a Document's text used as the unit of retrieval.
// Offsets and lengths are counted in runes.
type Chunk struct {
	Path   string // Path of the owning Document
	Index  int    // Chunk index within the document (starts at 0)
	Start  int    // Rune offset of the first character in the document
	Length int    // Number of runes in Text
	Text   string // Chunk text content
}

// End returns the rune offset one past the last character of the chunk.
func (c Chunk) End() int {
	return c.Start + c.Length
}
