package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"rag-portal/internal/config"
	"rag-portal/internal/models"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
	texts   []string
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.texts = texts
	return f.vectors, f.err
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.texts = []string{text}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.vectors) == 0 {
		return nil, nil
	}
	return f.vectors[0], nil
}

func TestGenerateEmbedding_KeepsOrder(t *testing.T) {
	chunks := []models.Chunk{
		{Content: "one", Source: "a.pdf", PageNumber: 1, ChunkID: 1},
		{Content: "two", Source: "a.pdf", PageNumber: 2, ChunkID: 1},
	}
	fe := &fakeEmbedder{vectors: [][]float32{{1, 0}, {0, 1}}}

	got, err := GenerateEmbedding(context.Background(), fe, chunks)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, fe.texts)
	require.Len(t, got, 2)
	require.Equal(t, 2, got[1].PageNumber)
	require.Equal(t, []float32{0, 1}, got[1].Embedding)
}

func TestGenerateEmbedding_Errors(t *testing.T) {
	chunks := []models.Chunk{{Content: "one"}, {Content: "two"}}

	_, err := GenerateEmbedding(context.Background(), &fakeEmbedder{vectors: [][]float32{{1}}}, chunks)
	require.ErrorContains(t, err, "got 1 vectors for 2 chunks")

	upstream := errors.New("401 unauthorized")
	_, err = GenerateEmbedding(context.Background(), &fakeEmbedder{err: upstream}, chunks)
	require.ErrorIs(t, err, upstream)

	got, err := GenerateEmbedding(context.Background(), &fakeEmbedder{}, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEmbedQuery(t *testing.T) {
	v, err := EmbedQuery(context.Background(), &fakeEmbedder{vectors: [][]float32{{0.5}}}, "q")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5}, v)

	_, err = EmbedQuery(context.Background(), &fakeEmbedder{}, "q")
	require.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	_, err := NewEmbedder(&config.LLMConfig{Provider: "cohere"})
	require.ErrorIs(t, err, ErrUnknownProvider)

	e, err := NewEmbedder(&config.LLMConfig{Provider: "openai", Key: "Bearer sk-test", Model: "text-embedding-ada-002"})
	require.NoError(t, err)
	require.NotNil(t, e)

	e, err = NewEmbedder(&config.LLMConfig{Provider: "ollama", BaseURL: "http://localhost:11434", Model: "nomic-embed-text"})
	require.NoError(t, err)
	require.NotNil(t, e)
}
