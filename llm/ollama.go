package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// ollamaProvider talks to Ollama. Chat goes through the OpenAI-compatible
// endpoint; embeddings use the native /api/embed endpoint, which takes the
// whole batch in one call.
type ollamaProvider struct {
	base client
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *ollamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := p.base.post(ctx, "embed", "/api/embed", map[string]any{
		"model": p.base.cfg.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	// Ollama returns float64 vectors; selection only needs float32.
	var reply struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decoding ollama embed response: %w", err)
	}
	if n := len(reply.Embeddings); n != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", n, len(texts))
	}
	return reply.Embeddings, nil
}
