package chunker

import (
	"strconv"
	"strings"

	"nfrag/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order when looking for a natural cut point.
var DefaultSeparators = []string{"\n\n", "\n", " "}

// CharacterChunker splits text into windows of at most size runes. Consecutive
// windows share exactly overlap runes. A window ends right after the last
// separator that still leaves more than overlap runes in it, or is hard cut.
type CharacterChunker struct {
	size       int
	overlap    int
	separators [][]rune
}

func NewCharacterChunker(size, overlap int, separators ...string) *CharacterChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	seps := make([][]rune, 0, len(separators))
	for _, s := range separators {
		if s != "" {
			seps = append(seps, []rune(s))
		}
	}
	return &CharacterChunker{size: size, overlap: overlap, separators: seps}
}

// Size returns the maximum chunk length in runes.
func (c *CharacterChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *CharacterChunker) Overlap() int { return c.overlap }

// Split cuts text into overlapping chunks. It is deterministic.
func (c *CharacterChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	r := []rune(text)
	if len(r) <= c.size {
		return []string{text}
	}
	var out []string
	start := 0
	for {
		end := start + c.size
		if end >= len(r) {
			out = append(out, string(r[start:]))
			return out
		}
		cut := c.cutPoint(r, start, end)
		out = append(out, string(r[start:cut]))
		start = cut - c.overlap
	}
}

// cutPoint returns the split position in (start+overlap, end].
func (c *CharacterChunker) cutPoint(r []rune, start, end int) int {
	floor := start + c.overlap
	for _, sep := range c.separators {
		for p := end - len(sep); p+len(sep) > floor && p >= start; p-- {
			if hasPrefixAt(r, p, sep) {
				return p + len(sep)
			}
		}
	}
	return end
}

func hasPrefixAt(r []rune, p int, sep []rune) bool {
	if p+len(sep) > len(r) {
		return false
	}
	for i, s := range sep {
		if r[p+i] != s {
			return false
		}
	}
	return true
}

// Chunk splits a document and tags every chunk with the document's source.
func (c *CharacterChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	parts := c.Split(document.Content)
	chunks := make([]domain.Chunk, 0, len(parts))
	for i, text := range parts {
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(i),
			Source:     document.Source,
			Text:       text,
			Index:      i,
		})
	}
	return chunks, nil
}
