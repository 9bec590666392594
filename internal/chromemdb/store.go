package chromemdb

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"rag-portal/internal/models"
)

// Store keeps one collection per document fingerprint.
type Store struct {
	m *VectorDBManager
}

func NewStore(m *VectorDBManager) *Store {
	return &Store{m: m}
}

// CollectionName derives the collection of a document fingerprint.
func CollectionName(fingerprint string) string {
	if len(fingerprint) > 16 {
		fingerprint = fingerprint[:16]
	}
	return "doc-" + fingerprint
}

func (s *Store) Count(_ context.Context, fingerprint string) (int, error) {
	return s.m.Count(CollectionName(fingerprint)), nil
}

func (s *Store) Add(ctx context.Context, fingerprint string, chunks []models.ChunkEmbedding) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("p%d-c%d-%d", c.PageNumber, c.ChunkID, i),
			Content:   c.Content,
			Metadata:  c.Metadata(),
			Embedding: c.Embedding,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	return s.m.CreateDocs(ctx, CollectionName(fingerprint), docs)
}

func (s *Store) Search(ctx context.Context, fingerprint string, embedding []float32, n int) ([]models.Chunk, error) {
	results, err := s.m.Search(ctx, CollectionName(fingerprint), embedding, n)
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, models.ChunkFromMetadata(r.Content, r.Metadata))
	}
	return chunks, nil
}

func (s *Store) Delete(_ context.Context, fingerprint string) error {
	return s.m.DeleteCollection(CollectionName(fingerprint))
}

// Export writes the collection of fingerprint to path, or to the manager's
// default export file when path is empty, and returns the file written.
func (s *Store) Export(fingerprint, path string) (string, error) {
	name := CollectionName(fingerprint)
	if path == "" {
		path = s.m.ExportPath(name)
	}
	if err := s.m.Export(path, name); err != nil {
		return "", err
	}
	return path, nil
}

// Import loads every collection found in path.
func (s *Store) Import(path string) error {
	return s.m.Import(path)
}
