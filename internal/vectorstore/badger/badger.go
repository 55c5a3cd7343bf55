// Package badger persists a built index in a BadgerDB directory so that
// `serve --reuse-index` can skip re-embedding on start.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"nfrag/internal/domain"
	"nfrag/internal/vectorstore"
)

const (
	chunkPrefix  = "chunk:"
	vectorPrefix = "vec:"
	manifestKey  = "meta:manifest"
	dimKey       = "meta:dimension"
)

var _ domain.VectorStore = (*Storage)(nil)
var _ domain.ManifestStore = (*Storage)(nil)

// Storage keeps chunks, sparse vectors and the index manifest in BadgerDB.
// Everything is decoded once, on Open and Upsert; Search never reads the DB.
type Storage struct {
	db *badger.DB

	mu        sync.RWMutex
	dimension int
	chunks    []domain.Chunk
	vectors   []vectorstore.Sparse
}

// slogAdapter adapts slog.Logger to badger.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Errorf(msg string, items ...any)   { a.logger.Error(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Warningf(msg string, items ...any) { a.logger.Warn(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Infof(msg string, items ...any)    { a.logger.Debug(fmt.Sprintf(msg, items...)) }
func (a *slogAdapter) Debugf(msg string, items ...any)   { a.logger.Debug(fmt.Sprintf(msg, items...)) }

// Open opens (creating if needed) the store at dir. An empty dir opens an
// in-memory database.
func Open(dir string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &slogAdapter{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &Storage{db: db}
	if err := s.loadState(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) loadState() error {
	return s.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get([]byte(dimKey)); err == nil {
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &s.dimension) }); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := iterate(txn, chunkPrefix, func(val []byte) error {
			var c domain.Chunk
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			s.chunks = append(s.chunks, c)
			return nil
		}); err != nil {
			return fmt.Errorf("load chunks: %w", err)
		}
		if err := iterate(txn, vectorPrefix, func(val []byte) error {
			v, err := vectorstore.DecodeSparse(val)
			if err != nil {
				return err
			}
			s.vectors = append(s.vectors, v)
			return nil
		}); err != nil {
			return fmt.Errorf("load vectors: %w", err)
		}
		if len(s.chunks) != len(s.vectors) {
			return fmt.Errorf("store holds %d chunks but %d vectors", len(s.chunks), len(s.vectors))
		}
		return nil
	})
}

// iterate visits values under prefix in key order.
func iterate(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func key(prefix string, n int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefix, n))
}

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	data, _ := json.Marshal(dimension)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(dimKey), data)
	}); err != nil {
		return err
	}
	s.mu.Lock()
	s.dimension = dimension
	s.mu.Unlock()
	return nil
}

func (s *Storage) Upsert(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}

	sparse := make([]vectorstore.Sparse, len(vectors))
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	next := len(s.chunks)
	for i := range chunks {
		data, err := json.Marshal(chunks[i])
		if err != nil {
			return err
		}
		if err := wb.Set(key(chunkPrefix, next+i), data); err != nil {
			return err
		}
		sparse[i] = vectorstore.NewSparse(vectors[i])
		if err := wb.Set(key(vectorPrefix, next+i), sparse[i].AppendBinary(nil)); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}
	s.chunks = append(s.chunks, chunks...)
	s.vectors = append(s.vectors, sparse...)
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 4
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]domain.SearchResult, len(s.vectors))
	for i, v := range s.vectors {
		results[i] = domain.SearchResult{Chunk: s.chunks[i], Score: v.Dot(vector)}
	}
	return vectorstore.TopK(results, topK), nil
}

func (s *Storage) Chunks(context.Context) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Chunk(nil), s.chunks...), nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DropPrefix([]byte(chunkPrefix), []byte(vectorPrefix), []byte("meta:")); err != nil {
		return err
	}
	s.chunks = nil
	s.vectors = nil
	s.dimension = 0
	return nil
}

func (s *Storage) SaveManifest(_ context.Context, m domain.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(manifestKey), data)
	})
}

func (s *Storage) LoadManifest(context.Context) (domain.Manifest, error) {
	var m domain.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(manifestKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &m) })
	})
	return m, err
}

func (s *Storage) Close() error {
	return s.db.Close()
}
