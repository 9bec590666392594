package models

import (
	"fmt"
	"strconv"
)

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	Source     string // base name of the originating file
	PageNumber int
	ChunkID    int
	Type       string
}

// Label is the human readable provenance shown next to answers.
func (c Chunk) Label() string {
	if c.PageNumber <= 0 {
		return c.Source
	}
	return fmt.Sprintf("%s p.%d", c.Source, c.PageNumber)
}

// Metadata flattens the provenance into the string map vector stores keep.
func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		MetaSource:   c.Label(),
		MetaFilename: c.Source,
		MetaPage:     strconv.Itoa(c.PageNumber),
		MetaChunk:    strconv.Itoa(c.ChunkID),
		MetaType:     c.Type,
	}
}

// ChunkFromMetadata is the inverse of Chunk.Metadata.
func ChunkFromMetadata(content string, meta map[string]string) Chunk {
	page, _ := strconv.Atoi(meta[MetaPage])
	chunkID, _ := strconv.Atoi(meta[MetaChunk])
	return Chunk{
		Content:    content,
		Source:     meta[MetaFilename],
		PageNumber: page,
		ChunkID:    chunkID,
		Type:       meta[MetaType],
	}
}

// ChunkEmbedding pairs a chunk with its vector.
type ChunkEmbedding struct {
	Chunk
	Embedding []float32
}

// Turn is one role-tagged message replayed to a chat model.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type PromptResponse struct {
	Query   string
	Answer  string
	Sources []Chunk
}
