package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// FakeModel is a scripted llms.Model. The i-th call answers Responses[i]; the
// last response repeats once the script runs out.
type FakeModel struct {
	Responses []string
	Err       error

	mu           sync.Mutex
	Calls        [][]llms.MessageContent
	Temperatures []float64
}

func (m *FakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, messages)
	m.Temperatures = append(m.Temperatures, opts.Temperature)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llms.ContentResponse{}, nil
	}
	i := len(m.Calls) - 1
	if i >= len(m.Responses) {
		i = len(m.Responses) - 1
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.Responses[i]}}}, nil
}

func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// LastCall returns the messages of the most recent call.
func (m *FakeModel) LastCall() []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}

// MessageText joins the text parts of a message.
func MessageText(msg llms.MessageContent) string {
	var parts []string
	for _, p := range msg.Parts {
		if t, ok := p.(llms.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "")
}

// FakeEmbedder maps text to keyword counts over Vocab plus one constant
// dimension, so texts sharing keywords land close together.
type FakeEmbedder struct {
	Vocab []string
	Err   error

	mu            sync.Mutex
	DocumentCalls int
	QueryCalls    int
	EmbeddedTexts []string
}

func (e *FakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DocumentCalls++
	if e.Err != nil {
		return nil, e.Err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		e.EmbeddedTexts = append(e.EmbeddedTexts, t)
		vectors[i] = e.vector(t)
	}
	return vectors, nil
}

func (e *FakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.QueryCalls++
	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(text), nil
}

func (e *FakeEmbedder) vector(text string) []float32 {
	text = strings.ToLower(text)
	v := make([]float32, len(e.Vocab)+1)
	for i, w := range e.Vocab {
		v[i] = float32(strings.Count(text, strings.ToLower(w)))
	}
	v[len(e.Vocab)] = 0.01
	return v
}
