package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	dbPath        string
	compress      bool
	encryptionKey string
}

const (
	compress = false
)

// NewVectorDBManager initializes a new vector database manager. A persistent
// manager writes every collection below dbPath.
func NewVectorDBManager(dbPath string, inMemory bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
	}, nil
}

// GetOrCreateCollection opens a collection. embed may be nil when every
// document and query carries its own embedding.
func (m *VectorDBManager) GetOrCreateCollection(name string, embed chromem.EmbeddingFunc) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return c, nil
}

// Count returns the number of documents in the named collection, 0 when it
// does not exist.
func (m *VectorDBManager) Count(name string) int {
	c := m.db.GetCollection(name, nil)
	if c == nil {
		return 0
	}
	return c.Count()
}

// CreateDocs adds multiple documents to the named collection
func (m *VectorDBManager) CreateDocs(ctx context.Context, name string, documents []chromem.Document) error {
	c, err := m.GetOrCreateCollection(name, nil)
	if err != nil {
		return err
	}
	if err := c.AddDocuments(ctx, documents, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search performs a similarity search by embedding. n is clamped to the
// collection size; an empty or missing collection yields no results.
func (m *VectorDBManager) Search(ctx context.Context, name string, embedding []float32, n int) ([]chromem.Result, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	c := m.db.GetCollection(name, nil)
	if c == nil {
		return nil, nil
	}
	if count := c.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// DeleteCollection drops the named collection.
func (m *VectorDBManager) DeleteCollection(name string) error {
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// ExportPath is the default export file of a collection.
func (m *VectorDBManager) ExportPath(name string) string {
	return filepath.Join(m.dbPath, name+".chromem")
}

// Export writes the named collections to filePath, encrypted when the
// manager has an encryption key.
func (m *VectorDBManager) Export(filePath string, names ...string) error {
	if filePath == "" {
		return fmt.Errorf("export path is required")
	}
	if len(names) == 0 {
		return fmt.Errorf("collection is required")
	}

	log.Debug().
		Strs("collections", names).
		Str("file", filePath).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("Exporting vector database")

	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads the named collections (all when none are given) from filePath.
func (m *VectorDBManager) Import(filePath string, names ...string) error {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, names...); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}
