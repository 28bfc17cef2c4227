package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/visdoc/visdoc/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// VectorStore keeps chunk embeddings in Postgres with pgvector. The
// pool is safe for concurrent use across ingestion jobs and queries.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "pdf_documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1024 // bge-large embedding dimension
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			doc_id TEXT NOT NULL,
			page_index INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			img_md5 TEXT,
			content TEXT,
			embedding vector(%d),
			metadata JSONB,
			PRIMARY KEY (doc_id, page_index, chunk_index)
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// ReplaceDocument swaps the document's entire chunk set in a single
// transaction: retrieval sees either the old chunks or the new ones,
// never a mix, and re-ingestion leaves no stale vectors behind.
func (vs *VectorStore) ReplaceDocument(ctx context.Context, docID string, chunks []models.Chunk) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	deleteStmt := fmt.Sprintf("DELETE FROM %s WHERE doc_id = $1", vs.config.TableName)
	if _, err := tx.Exec(ctx, deleteStmt, docID); err != nil {
		return fmt.Errorf("failed to delete prior chunks: %v", err)
	}

	insertStmt := fmt.Sprintf(`
		INSERT INTO %s (doc_id, page_index, chunk_index, img_md5, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		vs.config.TableName)

	for _, chunk := range chunks {
		imgMD5, _ := chunk.Metadata["img_md5"].(string)

		_, err = tx.Exec(ctx, insertStmt,
			docID,
			chunk.PageIndex,
			chunk.Index,
			imgMD5,
			sanitizeUTF8(chunk.Content),
			pgvector.NewVector(chunk.Embedding),
			chunk.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d/%d: %v", chunk.PageIndex, chunk.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// DeleteDocument removes every chunk belonging to the document.
func (vs *VectorStore) DeleteDocument(ctx context.Context, docID string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE doc_id = $1", vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt, docID); err != nil {
		return fmt.Errorf("failed to delete document: %v", err)
	}
	return nil
}

// Search returns the topK chunks nearest to the query embedding,
// ranked by cosine similarity.
func (vs *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]models.Reference, error) {
	if topK == 0 {
		topK = 3
	}

	query := fmt.Sprintf(`
		SELECT doc_id, page_index, chunk_index, img_md5, content,
		       1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var refs []models.Reference
	for rows.Next() {
		var ref models.Reference
		err := rows.Scan(
			&ref.DocumentID,
			&ref.PageIndex,
			&ref.ChunkIndex,
			&ref.ImageMD5,
			&ref.Content,
			&ref.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
