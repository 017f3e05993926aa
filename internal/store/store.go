package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/docsearch/pkg/models"
)

var (
	// ErrIndexWrite wraps any failure to persist chunk rows.
	ErrIndexWrite = errors.New("vector index write failed")
	// ErrIndexSearch wraps any failure to query the vector index.
	ErrIndexSearch = errors.New("vector index search failed")
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	Insert(ctx context.Context, rows models.ChunkRows) error
	Search(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error)
	ListFiles(ctx context.Context) ([]string, error)
	DeleteFile(ctx context.Context, fileID string) (int64, error)
	IsProcessed(ctx context.Context, checksum string) (bool, error)
	MarkProcessed(ctx context.Context, checksum, fileID string) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS chunks (
  chunk_id    TEXT PRIMARY KEY,
  file_id     TEXT NOT NULL,
  text        TEXT NOT NULL,
  embedding   vector(%d) NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS chunks_file_id_idx
  ON chunks (file_id);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS documents (
  checksum      TEXT PRIMARY KEY,
  file_id       TEXT NOT NULL,
  processed_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// Insert writes all rows in a single transaction. Either every row is stored
// or none is.
func (s *Store) Insert(ctx context.Context, rows models.ChunkRows) error {
	if err := rows.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexWrite, err)
	}
	if rows.Len() == 0 {
		return nil
	}

	const q = `INSERT INTO chunks (chunk_id, file_id, text, embedding) VALUES ($1, $2, $3, $4)`

	b := &pgx.Batch{}
	for i := range rows.IDs {
		b.Queue(q, rows.IDs[i], rows.FileIDs[i], rows.Texts[i], pgvector.NewVector(rows.Embeddings[i]))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexWrite, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%w: row %d: %w", ErrIndexWrite, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexWrite, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexWrite, err)
	}
	return nil
}

// Search returns the k chunks nearest to vec by L2 distance, closest first.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]models.ScoredHit, error) {
	if k <= 0 {
		return []models.ScoredHit{}, nil
	}

	const q = `
SELECT file_id, chunk_id, text, embedding <-> $1 AS distance
FROM chunks
ORDER BY distance
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexSearch, err)
	}
	defer rows.Close()

	out := make([]models.ScoredHit, 0, k)
	for rows.Next() {
		var h models.ScoredHit
		if err := rows.Scan(&h.FileID, &h.ChunkID, &h.Text, &h.SimilarityScore); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIndexSearch, err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexSearch, err)
	}
	return out, nil
}

// ListFiles returns a list of all unique file ids in the index.
func (s *Store) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT file_id FROM chunks ORDER BY file_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []string{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

// DeleteFile removes every chunk of a document and forgets its checksums so
// the document can be ingested again. It returns the number of chunks removed.
func (s *Store) DeleteFile(ctx context.Context, fileID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE file_id = $1`, fileID); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IsProcessed reports whether a document with this checksum was ingested.
func (s *Store) IsProcessed(ctx context.Context, checksum string) (bool, error) {
	var fileID string
	err := s.pool.QueryRow(ctx, `SELECT file_id FROM documents WHERE checksum = $1`, checksum).Scan(&fileID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed records the checksum of an ingested document.
func (s *Store) MarkProcessed(ctx context.Context, checksum, fileID string) error {
	const q = `
INSERT INTO documents (checksum, file_id, processed_at)
VALUES ($1, $2, now())
ON CONFLICT (checksum) DO UPDATE SET
  file_id      = EXCLUDED.file_id,
  processed_at = now();`
	_, err := s.pool.Exec(ctx, q, checksum, fileID)
	return err
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
