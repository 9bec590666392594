package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"rag-portal/internal/config"
	"rag-portal/internal/embedding"
	"rag-portal/internal/helper"
	"rag-portal/internal/llmservice"
	"rag-portal/internal/models"
	"rag-portal/internal/parser"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrNoDocuments   = errors.New("document produced no chunks")
)

const defaultNResults = 3

// Store keeps the chunk embeddings of every indexed document, keyed by
// document fingerprint.
type Store interface {
	Count(ctx context.Context, fingerprint string) (int, error)
	Add(ctx context.Context, fingerprint string, chunks []models.ChunkEmbedding) error
	Search(ctx context.Context, fingerprint string, embedding []float32, n int) ([]models.Chunk, error)
	Delete(ctx context.Context, fingerprint string) error
}

type RAG struct {
	store    Store
	embedder embeddings.Embedder
	model    llms.Model
	cfg      config.RAGConfig
}

// Request is one question against one document. Mode overrides the
// configured loader mode.
type Request struct {
	FilePath string
	Question string
	History  []models.Turn
	Mode     string
}

func NewRAG(store Store, embedder embeddings.Embedder, model llms.Model, cfg *config.RAGConfig) *RAG {
	r := &RAG{store: store, embedder: embedder, model: model}
	if cfg != nil {
		r.cfg = *cfg
	}
	if r.cfg.NResults <= 0 {
		r.cfg.NResults = defaultNResults
	}
	return r
}

// Fingerprint identifies the index of filePath under the given loader
// options; a changed file or chunking yields a new index.
func Fingerprint(filePath string, opts parser.Options) (string, error) {
	fp, err := helper.FileFingerprint(filePath,
		opts.Mode,
		strconv.Itoa(opts.ChunkSize),
		strconv.Itoa(opts.ChunkOverlap),
		strconv.Itoa(opts.ShredTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", parser.ErrLoad, err)
	}
	return fp, nil
}

func (r *RAG) options(mode string) parser.Options {
	opts := parser.OptionsFromConfig(&r.cfg)
	if mode != "" {
		opts.Mode = mode
	}
	return opts
}

// Index builds the embedding index of filePath, reusing an existing one.
func (r *RAG) Index(ctx context.Context, filePath, mode string) (string, error) {
	opts := r.options(mode)
	fp, err := Fingerprint(filePath, opts)
	if err != nil {
		return "", err
	}

	n, err := r.store.Count(ctx, fp)
	if err != nil {
		return "", fmt.Errorf("count index: %w", err)
	}
	if n > 0 {
		log.Debug().Str("file", filePath).Str("fingerprint", fp).Int("chunks", n).Msg("Reusing index")
		return fp, nil
	}

	chunks, err := parser.ParseDocument(filePath, opts)
	if err != nil {
		return "", err
	}
	// blank pages stay in the page count but are not searchable
	nonEmpty := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoDocuments, filePath)
	}

	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, r.embedder, nonEmpty)
	if err != nil {
		return "", err
	}
	if err := r.store.Add(ctx, fp, chunkEmbeddings); err != nil {
		return "", fmt.Errorf("store index: %w", err)
	}

	log.Info().Str("file", filePath).Str("fingerprint", fp).Int("chunks", len(chunkEmbeddings)).Msg("Indexed document")
	return fp, nil
}

// Reindex drops the index of filePath and builds it again.
func (r *RAG) Reindex(ctx context.Context, filePath, mode string) (string, error) {
	fp, err := Fingerprint(filePath, r.options(mode))
	if err != nil {
		return "", err
	}
	if err := r.store.Delete(ctx, fp); err != nil {
		return "", fmt.Errorf("drop index: %w", err)
	}
	return r.Index(ctx, filePath, mode)
}

// Answer asks question against filePath with the configured loader mode.
func (r *RAG) Answer(ctx context.Context, filePath, question string, history []models.Turn) (*models.PromptResponse, error) {
	return r.Query(ctx, Request{FilePath: filePath, Question: question, History: history})
}

// Query answers the question from the top ranked chunks of the document and
// returns the chunks used as sources.
func (r *RAG) Query(ctx context.Context, req Request) (*models.PromptResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	fp, err := r.Index(ctx, req.FilePath, req.Mode)
	if err != nil {
		return nil, err
	}

	queryEmbedding, err := embedding.EmbedQuery(ctx, r.embedder, question)
	if err != nil {
		return nil, err
	}
	sources, err := r.store.Search(ctx, fp, queryEmbedding, r.cfg.NResults)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	sources = fitContext(sources, r.cfg.MaxContextChars)

	answer, err := llmservice.GenerateContent(ctx, r.model, r.buildMessages(question, sources, req.History), 0)
	if err != nil {
		return nil, err
	}

	return &models.PromptResponse{
		Query:   question,
		Answer:  answer,
		Sources: sources,
	}, nil
}

func (r *RAG) buildMessages(question string, sources []models.Chunk, history []models.Turn) []llms.MessageContent {
	summaries := make([]string, len(sources))
	for i, s := range sources {
		summaries[i] = fmt.Sprintf(models.SummaryTemplate, s.Content, s.Label())
	}
	system := fmt.Sprintf(models.QASystemTemplate, strings.Join(summaries, models.SummarySeparator))

	turns := []models.Turn{{Role: models.RoleSystem, Content: system}}
	if n := r.cfg.HistoryTurns; n > 0 && len(history) > 0 {
		if len(history) > n {
			history = history[len(history)-n:]
		}
		turns = append(turns, history...)
	}
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: question})
	return llmservice.ToMessageContent(turns)
}

// fitContext drops trailing chunks until the combined content fits maxChars.
// The best ranked chunk is always kept.
func fitContext(chunks []models.Chunk, maxChars int) []models.Chunk {
	if maxChars <= 0 {
		return chunks
	}
	total := 0
	for i, c := range chunks {
		total += len([]rune(c.Content))
		if total > maxChars && i > 0 {
			return chunks[:i]
		}
	}
	return chunks
}

// FormatAnswer renders the answer followed by a blank line and the distinct
// source labels, one per line.
func FormatAnswer(resp *models.PromptResponse) string {
	if resp == nil {
		return ""
	}
	seen := make(map[string]bool)
	var labels []string
	for _, s := range resp.Sources {
		label := s.Label()
		if seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return resp.Answer
	}
	return resp.Answer + "\n\n" + strings.Join(labels, "\n")
}
