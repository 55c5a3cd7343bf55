package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"nfrag/internal/domain"
	"nfrag/internal/embedding"
)

// DefaultTopK is the number of chunks returned when a query asks for none.
const DefaultTopK = 4

var (
	// ErrEmptyIndex is returned by Open when the store holds no chunks.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrManifestMismatch is returned by Open when the stored index was
	// built with a different embedder.
	ErrManifestMismatch = errors.New("index manifest does not match embedder")
)

// Index answers similarity queries over an embedded chunk set.
// It is read-only once built and safe for concurrent readers.
type Index struct {
	embedder domain.Embedder
	store    domain.VectorStore
	chunks   []domain.Chunk
	manifest domain.Manifest
	logger   *slog.Logger
}

type options struct {
	workers   int
	batchSize int
	logger    *slog.Logger
}

// Option configures Build and Open.
type Option func(*options)

// WithWorkers sets the embedding pool size. Default is runtime.NumCPU() / 2, minimum 1.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBatchSize sets how many chunk texts each pool task embeds.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func newOptions(opts []Option) options {
	o := options{workers: runtime.NumCPU() / 2, batchSize: 32}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.batchSize < 1 {
		o.batchSize = 32
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "index")
	return o
}

// Build embeds chunks into store, replacing whatever it held.
// An empty chunk set yields an empty index whose queries return nothing.
func Build(ctx context.Context, embedder domain.Embedder, store domain.VectorStore, chunks []domain.Chunk, opts ...Option) (*Index, error) {
	o := newOptions(opts)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := embedder.Prepare(ctx, texts); err != nil {
		return nil, fmt.Errorf("prepare embedder: %w", err)
	}
	ix := &Index{
		embedder: embedder,
		store:    store,
		chunks:   append([]domain.Chunk(nil), chunks...),
		logger:   o.logger,
	}
	if err := store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear store: %w", err)
	}
	if len(chunks) == 0 {
		o.logger.Warn("building empty index")
		return ix, nil
	}

	start := time.Now()
	vectors, err := embedAll(ctx, embedder, texts, o)
	if err != nil {
		return nil, err
	}
	dim := len(vectors[0])
	if err := store.Init(ctx, dim); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := store.Upsert(ctx, ix.chunks, vectors); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}
	ix.manifest = domain.Manifest{
		Embedder:   embedder.Name(),
		Dimension:  dim,
		ChunkCount: len(chunks),
		BuiltAt:    time.Now().Unix(),
	}
	if ms, ok := store.(domain.ManifestStore); ok {
		if err := ms.SaveManifest(ctx, ix.manifest); err != nil {
			return nil, fmt.Errorf("save manifest: %w", err)
		}
	}
	o.logger.Info("index built",
		"chunks", len(chunks),
		"dimension", dim,
		"embedder", embedder.Name(),
		"took", time.Since(start).String(),
	)
	return ix, nil
}

// embedAll embeds texts in batches on a worker pool, keeping input order.
func embedAll(ctx context.Context, embedder domain.Embedder, texts []string, o options) ([][]float32, error) {
	pool, err := ants.NewPool(o.workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}
			vecs, err := embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				fail(fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err))
				return
			}
			if len(vecs) != end-start {
				fail(fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start))
				return
			}
			copy(vectors[start:end], vecs)
		})
		if submitErr != nil {
			wg.Done()
			fail(submitErr)
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return vectors, nil
}

// Open attaches to a store populated by an earlier Build.
func Open(ctx context.Context, embedder domain.Embedder, store domain.VectorStore, opts ...Option) (*Index, error) {
	o := newOptions(opts)
	chunks, err := store.Chunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stored chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyIndex
	}
	var manifest domain.Manifest
	if ms, ok := store.(domain.ManifestStore); ok {
		manifest, err = ms.LoadManifest(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			o.logger.Warn("stored index has no manifest")
		case err != nil:
			return nil, fmt.Errorf("load manifest: %w", err)
		case manifest.Embedder != embedder.Name():
			return nil, fmt.Errorf("%w: built with %q, configured %q", ErrManifestMismatch, manifest.Embedder, embedder.Name())
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := embedder.Prepare(ctx, texts); err != nil {
		return nil, fmt.Errorf("prepare embedder: %w", err)
	}
	if dim := embedder.Dimension(); manifest.Dimension > 0 && dim > 0 && dim != manifest.Dimension {
		return nil, fmt.Errorf("%w: dimension %d, embedder produces %d", ErrManifestMismatch, manifest.Dimension, dim)
	}
	if manifest.ChunkCount == 0 {
		manifest.ChunkCount = len(chunks)
	}
	o.logger.Info("index opened", "chunks", len(chunks), "embedder", embedder.Name())
	return &Index{
		embedder: embedder,
		store:    store,
		chunks:   chunks,
		manifest: manifest,
		logger:   o.logger,
	}, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Manifest describes the built index. It is zero for an empty index.
func (ix *Index) Manifest() domain.Manifest { return ix.manifest }

// Query returns the k chunks most relevant to text, best first.
func (ix *Index) Query(ctx context.Context, text string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if len(ix.chunks) == 0 {
		return nil, nil
	}
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embedding.IsZero(vec) {
		return lexicalSearch(ix.chunks, text, k), nil
	}
	res, err := ix.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}
	for _, r := range res {
		if r.Score > 1e-9 {
			return res, nil
		}
	}
	ix.logger.Debug("vector scores all zero, using lexical ranking")
	return lexicalSearch(ix.chunks, text, k), nil
}
