package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"rag-portal/internal/chromemdb"
	"rag-portal/internal/config"
	"rag-portal/internal/db"
	"rag-portal/internal/embedding"
	"rag-portal/internal/llmservice"
	"rag-portal/internal/rag"
)

// Vector store backends.
const (
	backendChromem  = "chromem"
	backendPGVector = "pgvector"
)

func usesPGVector(c *config.Config) bool {
	return strings.EqualFold(c.VectorStore.Backend, backendPGVector)
}

// openDB connects and creates the tables. The documents table is only
// created for the pgvector backend.
func openDB(ctx context.Context, c *config.Config) (*bun.DB, error) {
	bdb, err := db.Open(&c.Database)
	if err != nil {
		return nil, err
	}
	dim := 0
	if usesPGVector(c) {
		dim = c.VectorStore.Dimension
	}
	if err := db.InitDB(ctx, bdb, dim); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	return bdb, nil
}

// newStore builds the configured vector store. bdb may be nil for chromem.
func newStore(c *config.Config, bdb *bun.DB) (rag.Store, error) {
	switch strings.ToLower(c.VectorStore.Backend) {
	case "", backendChromem:
		m, err := chromemdb.NewVectorDBManager(c.VectorStore.Path, c.VectorStore.InMemory, c.RAG.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("open chromem store: %w", err)
		}
		return chromemdb.NewStore(m), nil
	case backendPGVector:
		if bdb == nil {
			return nil, fmt.Errorf("%s backend needs a database", backendPGVector)
		}
		return db.NewDocumentStore(bdb), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend: %s", c.VectorStore.Backend)
	}
}

func newRAG(ctx context.Context, c *config.Config, store rag.Store) (*rag.RAG, error) {
	emb, err := embedding.NewEmbedder(&c.EmbedLLM)
	if err != nil {
		return nil, err
	}
	model, err := llmservice.NewModel(ctx, &c.LLM)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return rag.NewRAG(store, emb, model, &c.RAG), nil
}

// openRAG builds the pipeline for the offline commands. The database is only
// opened for the pgvector backend; the returned func releases it.
func openRAG(ctx context.Context, c *config.Config) (*rag.RAG, rag.Store, func(), error) {
	var bdb *bun.DB
	closeFn := func() {}
	if usesPGVector(c) {
		var err error
		if bdb, err = openDB(ctx, c); err != nil {
			return nil, nil, nil, err
		}
		closeFn = func() {
			if err := bdb.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close database")
			}
		}
	}
	store, err := newStore(c, bdb)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	r, err := newRAG(ctx, c, store)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return r, store, closeFn, nil
}
