package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestEmbedder_PrepareAndEmbed(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	corpus := []string{
		"CANETA ESFEROGRÁFICA AZUL 35240112345678000199550010000012341000012345",
		"PAPEL SULFITE A4 resma",
		"CANETA marca texto amarela",
	}
	require.NoError(t, e.Prepare(ctx, corpus))
	assert.Greater(t, e.Dimension(), 0)

	v, err := e.Embed(ctx, "caneta azul")
	require.NoError(t, err)
	assert.Len(t, v, e.Dimension())
	assert.InDelta(t, 1.0, norm(v), 1e-6)

	docs, err := e.EmbedBatch(ctx, corpus)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Greater(t, dot(v, docs[0]), dot(v, docs[1]))
}

func TestEmbedder_KeepsNumbers(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, []string{"nota 35240112345678000199550010000012341000012345", "nota 999"}))

	v, err := e.Embed(ctx, "35240112345678000199550010000012341000012345")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(v), 1e-6)
}

func TestEmbedder_StopwordsOnlyGivesZeroVector(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	require.NoError(t, e.Prepare(ctx, []string{"caneta azul", "papel branco"}))

	v, err := e.Embed(ctx, "qual é o de da")
	require.NoError(t, err)
	assert.Zero(t, norm(v))
}

func TestEmbedder_NotPrepared(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), "caneta")
	assert.Error(t, err)
}

func TestEmbedder_EmptyCorpus(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(context.Background(), nil))
	assert.Equal(t, 0, e.Dimension())

	assert.Error(t, NewEmbedder().Prepare(context.Background(), []string{"de da do"}))
}
