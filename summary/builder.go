package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/kgsearch/llm"
	"github.com/brunobiangulo/kgsearch/metrics"
	"github.com/brunobiangulo/kgsearch/store"
)

const (
	summarySystemPrompt = "You are a helpful assistant that summarizes knowledge graph data."
	summaryUserPrompt   = "Please summarize the following knowledge graph data:\n\n%s"
)

// ErrEmptySummary is returned when the chat model replies with no text.
var ErrEmptySummary = errors.New("summary: model returned an empty summary")

// Chatter is the completion half of llm.Provider.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// BuilderConfig tunes summary generation.
type BuilderConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// MaxGraphChars caps the serialised graph placed in the prompt.
	MaxGraphChars int
	// Concurrency bounds parallel databases in ResummarizeAll.
	Concurrency  int
	StoreTimeout time.Duration
}

// DefaultBuilderConfig returns the settings summaries have always been built with.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		MaxTokens:     100,
		Temperature:   0.7,
		MaxGraphChars: 24000,
		Concurrency:   4,
		StoreTimeout:  30 * time.Second,
	}
}

// Builder turns the contents of a graph database into a short summary and
// stores it in the cache.
type Builder struct {
	store store.Store
	chat  Chatter
	cache *Cache
	cfg   BuilderConfig
}

// NewBuilder returns a builder writing into cache.
func NewBuilder(s store.Store, chat Chatter, cache *Cache, cfg BuilderConfig) *Builder {
	def := DefaultBuilderConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxGraphChars <= 0 {
		cfg.MaxGraphChars = def.MaxGraphChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Builder{store: s, chat: chat, cache: cache, cfg: cfg}
}

// Resummarize rebuilds the summary of one database. On failure the cache
// keeps whatever it held before.
func (b *Builder) Resummarize(ctx context.Context, database string) (string, error) {
	start := time.Now()
	summary, err := b.summarize(ctx, database)
	if err == nil {
		err = b.cache.Set(database, summary)
	}
	if err != nil {
		metrics.SummaryRefreshes.WithLabelValues("failed").Inc()
		slog.Warn("summary: resummarize failed", "database", database, "error", err)
		return "", err
	}
	metrics.SummaryRefreshes.WithLabelValues("ok").Inc()
	slog.Info("summary: stored",
		"database", database,
		"chars", len(summary),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return summary, nil
}

func (b *Builder) summarize(ctx context.Context, database string) (string, error) {
	graphText, err := b.graphText(ctx, database)
	if err != nil {
		return "", err
	}

	resp, err := b.chat.Chat(ctx, llm.ChatRequest{
		Model: b.cfg.Model,
		Messages: []llm.Message{
			llm.System(summarySystemPrompt),
			llm.User(fmt.Sprintf(summaryUserPrompt, graphText)),
		},
		MaxTokens:   b.cfg.MaxTokens,
		Temperature: b.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("summarizing %s: %w", database, err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

func (b *Builder) graphText(ctx context.Context, database string) (string, error) {
	if b.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.StoreTimeout)
		defer cancel()
	}
	g, err := b.store.Open(ctx, database)
	if err != nil {
		return "", err
	}
	defer g.Close()

	snap, err := g.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return renderGraph(snap, b.cfg.MaxGraphChars)
}

type graphNode struct {
	ID         string           `json:"id"`
	Label      string           `json:"label"`
	Properties store.Attributes `json:"properties"`
}

type graphEdge struct {
	From       string           `json:"from"`
	To         string           `json:"to"`
	Type       string           `json:"type"`
	Properties store.Attributes `json:"properties,omitempty"`
}

// renderGraph serialises the snapshot as compact JSON, truncated to max
// characters.
func renderGraph(snap *store.Snapshot, max int) (string, error) {
	data := struct {
		Nodes         []graphNode `json:"nodes"`
		Relationships []graphEdge `json:"relationships"`
	}{Nodes: []graphNode{}, Relationships: []graphEdge{}}

	for label, byID := range snap.Entities {
		for id, e := range byID {
			data.Nodes = append(data.Nodes, graphNode{ID: id, Label: label, Properties: e.Attributes})
		}
	}
	sortNodes(data.Nodes)
	for _, r := range snap.Relationships {
		data.Relationships = append(data.Relationships, graphEdge{
			From: r.FromID, To: r.ToID, Type: r.Type, Properties: r.Attributes,
		})
	}

	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding graph: %w", err)
	}
	s := string(b)
	if max > 0 && len(s) > max {
		s = truncateUTF8(s, max) + " ...(truncated)"
	}
	return s, nil
}

// ResummarizeAll rebuilds every database's summary with bounded
// concurrency. Individual failures are logged and counted, not returned.
func (b *Builder) ResummarizeAll(ctx context.Context) error {
	names, err := b.store.ListDatabases(ctx)
	if err != nil {
		return fmt.Errorf("listing databases: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	failed := make([]bool, len(names))
	for i, name := range names {
		g.Go(func() error {
			if _, err := b.Resummarize(gctx, name); err != nil {
				failed[i] = true
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	slog.Info("summary: refresh complete", "databases", len(names), "failed", n)
	return nil
}
