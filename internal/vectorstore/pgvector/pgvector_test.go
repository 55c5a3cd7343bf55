package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfrag/internal/domain"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	dsn := os.Getenv("NFRAG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NFRAG_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, "nfrag_chunks_test")
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStorage_SearchAndChunks(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))

	chunks := []domain.Chunk{
		{DocumentID: "d", ChunkID: "d:0", Source: domain.SourceMergedCSVs, Text: "caneta", Index: 0},
		{DocumentID: "d", ChunkID: "d:1", Source: domain.SourceMergedCSVs, Text: "papel", Index: 1},
	}
	require.NoError(t, s.Upsert(ctx, chunks, [][]float32{{1, 0}, {0, 1}}))

	res, err := s.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d:1", res[0].Chunk.ChunkID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)

	all, err := s.Chunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunks, all)
}

func TestStorage_Manifest(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))

	_, err := s.LoadManifest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.Manifest{Embedder: "tfidf", Dimension: 2, ChunkCount: 2, BuiltAt: 1700000000}
	require.NoError(t, s.SaveManifest(ctx, m))
	got, err := s.LoadManifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestStorage_WideEmbeddingsUseSparseColumn(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	const dim = 21287
	require.NoError(t, s.Init(ctx, dim))

	a := make([]float32, dim)
	b := make([]float32, dim)
	a[5], b[20000] = 1, 1
	chunks := []domain.Chunk{{ChunkID: "d:0", Index: 0}, {ChunkID: "d:1", Index: 1}}
	require.NoError(t, s.Upsert(ctx, chunks, [][]float32{a, b}))

	res, err := s.Search(ctx, b, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d:1", res[0].Chunk.ChunkID)
}
