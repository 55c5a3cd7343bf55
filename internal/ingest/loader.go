package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"nfrag/internal/domain"
)

const (
	DefaultHeaderMaxRows = 2000
	DefaultItemMaxRows   = 6000
)

// Options bound and shape the CSV reads.
type Options struct {
	HeaderMaxRows int
	ItemMaxRows   int
	Delimiter     rune
	Encoding      string
}

// Result is the outcome of a load. Err is set when the load failed; Chunks is
// then empty and the caller is expected to keep going with an empty index.
type Result struct {
	Chunks  []domain.Chunk
	Headers int
	Items   int
	Merged  int
	Err     error
}

// Loader reads, joins, serializes and chunks the two invoice datasets.
type Loader struct {
	chunker domain.Chunker
	opts    Options
	logger  *slog.Logger
}

func NewLoader(chunker domain.Chunker, opts Options, logger *slog.Logger) *Loader {
	if opts.HeaderMaxRows == 0 {
		opts.HeaderMaxRows = DefaultHeaderMaxRows
	}
	if opts.ItemMaxRows == 0 {
		opts.ItemMaxRows = DefaultItemMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{chunker: chunker, opts: opts, logger: logger.With("component", "ingest")}
}

// Load never returns a partial chunk set: any failure is logged and reported
// through Result.Err with no chunks.
func (l *Loader) Load(ctx context.Context, headerPath, itemsPath string) Result {
	res, err := l.load(ctx, headerPath, itemsPath)
	if err != nil {
		l.logger.Error("failed to load and merge csv files", "header_path", headerPath, "items_path", itemsPath, "error", err)
		return Result{Err: err}
	}
	l.logger.Info("csv files merged",
		"headers", res.Headers,
		"items", res.Items,
		"merged", res.Merged,
		"chunks", len(res.Chunks),
	)
	return res
}

func (l *Loader) load(ctx context.Context, headerPath, itemsPath string) (Result, error) {
	headerTable, err := l.readFile(headerPath, HeaderColumns, l.opts.HeaderMaxRows)
	if err != nil {
		return Result{}, fmt.Errorf("header dataset: %w", err)
	}
	itemTable, err := l.readFile(itemsPath, ItemColumns, l.opts.ItemMaxRows)
	if err != nil {
		return Result{}, fmt.Errorf("item dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	headers := HeadersFromTable(headerTable)
	items := ItemsFromTable(itemTable)
	merged := LeftJoin(items, headers)

	doc := domain.Document{
		ID:      domain.SourceMergedCSVs,
		Source:  domain.SourceMergedCSVs,
		Content: Render(merged),
	}
	chunks, err := l.chunker.Chunk(doc)
	if err != nil {
		return Result{}, fmt.Errorf("chunk merged table: %w", err)
	}
	return Result{
		Chunks:  chunks,
		Headers: len(headers),
		Items:   len(items),
		Merged:  len(merged),
	}, nil
}

func (l *Loader) readFile(path string, cols []string, maxRows int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTable(f, ReadOptions{
		Columns:   cols,
		MaxRows:   maxRows,
		Delimiter: l.opts.Delimiter,
		Encoding:  l.opts.Encoding,
	})
}
