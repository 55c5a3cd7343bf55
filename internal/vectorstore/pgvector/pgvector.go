package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"nfrag/internal/domain"
)

const defaultTable = "nfrag_chunks"

const (
	// MaxDenseDimensions is the largest vector(n) column pgvector accepts.
	// Wider embeddings, such as a TF-IDF vocabulary, go to a sparsevec column.
	MaxDenseDimensions = 16000
	maxSparseNonZero   = 16000
)

// columnType picks the embedding column type for a dimension.
func columnType(dimension int) string {
	if dimension > MaxDenseDimensions {
		return fmt.Sprintf("sparsevec(%d)", dimension)
	}
	return fmt.Sprintf("vector(%d)", dimension)
}

// embeddingValue encodes v for the column columnType(len(v)) created.
func embeddingValue(v []float32) (any, error) {
	if len(v) <= MaxDenseDimensions {
		return pgv.NewVector(v), nil
	}
	sv := pgv.NewSparseVector(v)
	if n := len(sv.Indices()); n > maxSparseNonZero {
		return nil, fmt.Errorf("embedding has %d non-zero components, pgvector sparsevec allows %d", n, maxSparseNonZero)
	}
	return sv, nil
}

// Storage keeps chunks in a PostgreSQL table with a pgvector column and
// searches with the cosine distance operator. Sparse columns need pgvector 0.7+.
type Storage struct {
	pool  *pgxpool.Pool
	table string
	meta  string
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn, table string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if table == "" {
		table = defaultTable
	}
	return &Storage{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		meta:  pgx.Identifier{table + "_meta"}.Sanitize(),
	}, nil
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			position    INTEGER PRIMARY KEY,
			chunk_id    TEXT NOT NULL,
			document_id TEXT NOT NULL,
			source      TEXT NOT NULL,
			content     TEXT NOT NULL,
			embedding   %s NOT NULL
		)`, s.table, columnType(dimension)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value JSONB NOT NULL)`, s.meta),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init pgvector schema: %w", err)
		}
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	query := fmt.Sprintf(`INSERT INTO %s (position, chunk_id, document_id, source, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (position) DO UPDATE SET
			chunk_id = EXCLUDED.chunk_id,
			document_id = EXCLUDED.document_id,
			source = EXCLUDED.source,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for i, c := range chunks {
		emb, err := embeddingValue(vectors[i])
		if err != nil {
			return fmt.Errorf("chunk %s: %w", c.ChunkID, err)
		}
		batch.Queue(query, c.Index, c.ChunkID, c.DocumentID, c.Source, c.Text, emb)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 4
	}
	query := fmt.Sprintf(`SELECT position, chunk_id, document_id, source, content, 1 - (embedding <=> $1) AS score
		FROM %s ORDER BY embedding <=> $1, position LIMIT $2`, s.table)
	emb, err := embeddingValue(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, emb, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var r domain.SearchResult
		if err := rows.Scan(&r.Chunk.Index, &r.Chunk.ChunkID, &r.Chunk.DocumentID, &r.Chunk.Source, &r.Chunk.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Storage) Chunks(ctx context.Context) ([]domain.Chunk, error) {
	query := fmt.Sprintf(`SELECT position, chunk_id, document_id, source, content FROM %s ORDER BY position`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.Index, &c.ChunkID, &c.DocumentID, &c.Source, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Clear drops both tables so the next Init can pick a new dimension.
func (s *Storage) Clear(ctx context.Context) error {
	for _, t := range []string{s.table, s.meta} {
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}
	return nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) SaveManifest(ctx context.Context, m domain.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES ('manifest', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.meta)
	if _, err := s.pool.Exec(ctx, query, data); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

func (s *Storage) LoadManifest(ctx context.Context) (domain.Manifest, error) {
	var m domain.Manifest
	var data []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = 'manifest'`, s.meta)
	if err := s.pool.QueryRow(ctx, query).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return m, domain.ErrNotFound
		}
		return m, fmt.Errorf("failed to load manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}
