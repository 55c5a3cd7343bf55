package domain

import (
	"context"
	"errors"
)

// SourceMergedCSVs tags chunks produced from the joined invoice datasets.
const SourceMergedCSVs = "merged_csvs"

// ErrNotFound is returned by stores when a key is absent.
var ErrNotFound = errors.New("not found")

// Document is a serialized text body ready to be chunked.
type Document struct {
	ID      string
	Source  string
	Content string
}

// Chunk is a bounded-length fragment of a document used for indexing.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Source     string
	Text       string
	Index      int
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(ctx context.Context, corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists vectors and supports similarity search.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// Chunks returns every stored chunk ordered by Index.
	Chunks(ctx context.Context) ([]Chunk, error)
	Clear(ctx context.Context) error
	Close() error
}

// Manifest describes a built index so a persisted store can be reopened.
type Manifest struct {
	Embedder   string `json:"embedder"`
	Dimension  int    `json:"dimension"`
	ChunkCount int    `json:"chunk_count"`
	BuiltAt    int64  `json:"built_at"`
}

// ManifestStore is implemented by persisted stores that keep a Manifest.
type ManifestStore interface {
	SaveManifest(ctx context.Context, m Manifest) error
	LoadManifest(ctx context.Context) (Manifest, error)
}
