package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"rag-portal/internal/models"
)

type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             int64           `bun:"id,pk,autoincrement"`
	Fingerprint    string          `bun:"fingerprint,notnull"`
	Content        string          `bun:"content,notnull"`
	SourceFilename string          `bun:"source_filename"`
	PageNumber     int             `bun:"page_number"`
	ChunkID        int             `bun:"chunk_id"`
	Type           string          `bun:"type"`
	Embedding      pgvector.Vector `bun:"embedding,notnull"`
}

func initDocuments(ctx context.Context, db *bun.DB, dim int) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id bigserial PRIMARY KEY,
	fingerprint text NOT NULL,
	content text NOT NULL,
	source_filename text,
	page_number integer,
	chunk_id integer,
	type text,
	embedding vector(%d) NOT NULL
)`, dim),
		"CREATE INDEX IF NOT EXISTS documents_fingerprint_idx ON documents (fingerprint)",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init documents: %w", storeErr(err))
		}
	}
	return nil
}

// DocumentStore keeps chunk embeddings in postgres, partitioned by document
// fingerprint.
type DocumentStore struct {
	db bun.IDB
}

func NewDocumentStore(db bun.IDB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Count(ctx context.Context, fingerprint string) (int, error) {
	n, err := s.db.NewSelect().Model((*Document)(nil)).Where("fingerprint = ?", fingerprint).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", storeErr(err))
	}
	return n, nil
}

func (s *DocumentStore) Add(ctx context.Context, fingerprint string, chunks []models.ChunkEmbedding) error {
	docs := toDocuments(fingerprint, chunks)
	if len(docs) == 0 {
		return nil
	}
	if _, err := s.db.NewInsert().Model(&docs).Exec(ctx); err != nil {
		return fmt.Errorf("store documents: %w", storeErr(err))
	}
	return nil
}

func (s *DocumentStore) Search(ctx context.Context, fingerprint string, embedding []float32, n int) ([]models.Chunk, error) {
	var docs []Document
	err := s.db.NewSelect().
		Model(&docs).
		Column("id", "content", "source_filename", "page_number", "chunk_id", "type").
		Where("fingerprint = ?", fingerprint).
		OrderExpr("embedding <-> ?", pgvector.NewVector(embedding)).
		Limit(n).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", storeErr(err))
	}
	chunks := make([]models.Chunk, len(docs))
	for i, d := range docs {
		chunks[i] = d.Chunk()
	}
	return chunks, nil
}

func (s *DocumentStore) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.NewDelete().Model((*Document)(nil)).Where("fingerprint = ?", fingerprint).Exec(ctx); err != nil {
		return fmt.Errorf("delete documents: %w", storeErr(err))
	}
	return nil
}

func (d Document) Chunk() models.Chunk {
	return models.Chunk{
		Content:    d.Content,
		Source:     d.SourceFilename,
		PageNumber: d.PageNumber,
		ChunkID:    d.ChunkID,
		Type:       d.Type,
	}
}

func toDocuments(fingerprint string, chunks []models.ChunkEmbedding) []Document {
	docs := make([]Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, Document{
			Fingerprint:    fingerprint,
			Content:        c.Content,
			SourceFilename: c.Source,
			PageNumber:     c.PageNumber,
			ChunkID:        c.ChunkID,
			Type:           c.Type,
			Embedding:      pgvector.NewVector(c.Embedding),
		})
	}
	return docs
}
