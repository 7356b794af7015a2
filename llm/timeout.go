package llm

import (
	"context"
	"time"
)

// WithTimeouts wraps p so that every Chat and Embed call runs under its own
// deadline. A zero duration leaves that call unbounded.
func WithTimeouts(p Provider, chat, embed time.Duration) Provider {
	return &timeoutProvider{next: p, chat: chat, embed: embed}
}

type timeoutProvider struct {
	next  Provider
	chat  time.Duration
	embed time.Duration
}

func (p *timeoutProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if p.chat > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.chat)
		defer cancel()
	}
	return p.next.Chat(ctx, req)
}

func (p *timeoutProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.embed > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.embed)
		defer cancel()
	}
	return p.next.Embed(ctx, texts)
}
