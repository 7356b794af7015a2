package search

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/brunobiangulo/kgsearch/llm"
	"github.com/brunobiangulo/kgsearch/store"
)

const extractSystemPrompt = `You are a helpful assistant that generates search parameters for entities and relationships in a knowledge graph based on the given user input.
Reply with a JSON array only. Every element is an object with the single key "name" whose value is one name or word from the input worth looking up.

User: Did Johnny Appleseed plant apple seeds?
Assistant: [{"name":"Johnny"},{"name":"Appleseed"},{"name":"Apple"},{"name":"Seed"}]`

// Chatter is the completion half of llm.Provider.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Extractor asks the chat model for search constraints.
type Extractor struct {
	chat  Chatter
	model string
}

// NewExtractor returns an extractor; an empty model uses the provider's.
func NewExtractor(chat Chatter, model string) *Extractor {
	return &Extractor{chat: chat, model: model}
}

// Extract returns the constraints the model proposes for query. A failed
// call or an unreadable reply is logged and yields no constraints.
func (x *Extractor) Extract(ctx context.Context, query string) []store.Constraint {
	resp, err := x.chat.Chat(ctx, llm.ChatRequest{
		Model: x.model,
		Messages: []llm.Message{
			llm.System(extractSystemPrompt),
			llm.User("User input:" + query),
		},
		Temperature: 0,
	})
	if err != nil {
		slog.Warn("search: constraint extraction failed", "error", err)
		return nil
	}

	cs, err := DecodeConstraints(resp.Content)
	if err != nil {
		slog.Warn("search: unreadable constraint reply", "error", err, "reply", truncate(resp.Content, 200))
		return nil
	}
	slog.Debug("search: constraints extracted", "count", len(cs), "reply", truncate(resp.Content, 200))
	return cs
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
