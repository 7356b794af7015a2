package summary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kgsearch/llm"
	"github.com/brunobiangulo/kgsearch/store"
	"github.com/brunobiangulo/kgsearch/store/storetest"
)

type fakeChat struct {
	mu    sync.Mutex
	reqs  []llm.ChatRequest
	reply func(req llm.ChatRequest) (string, error)
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	content, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Content: content}, nil
}

func orchardStore() *storetest.Store {
	s := storetest.New("orchard", "zoo")
	g := s.Graph("orchard")
	johnny := g.MustEntity("Person", store.Attributes{"name": "Johnny"})
	apple := g.MustEntity("Fruit", store.Attributes{"name": "Apple"})
	g.MustRelate(johnny, "planted", apple)
	s.Graph("zoo").MustEntity("Animal", store.Attributes{"name": "Zebra"})
	return s
}

func TestResummarize(t *testing.T) {
	chat := &fakeChat{reply: func(llm.ChatRequest) (string, error) { return "  An orchard graph.\n", nil }}
	cache := NewCache(filepath.Join(t.TempDir(), "s.json"))
	b := NewBuilder(orchardStore(), chat, cache, DefaultBuilderConfig())

	got, err := b.Resummarize(context.Background(), "orchard")
	require.NoError(t, err)
	assert.Equal(t, "An orchard graph.", got)

	cached, ok, err := cache.Get("orchard")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "An orchard graph.", cached)

	require.Len(t, chat.reqs, 1)
	req := chat.reqs[0]
	assert.Equal(t, 100, req.MaxTokens)
	assert.Equal(t, 0.7, req.Temperature)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, summarySystemPrompt, req.Messages[0].Content)
	assert.True(t, strings.HasPrefix(req.Messages[1].Content, "Please summarize the following knowledge graph data:\n\n"))
	assert.Contains(t, req.Messages[1].Content, `"Johnny"`)
	assert.Contains(t, req.Messages[1].Content, `"planted"`)
}

func TestResummarizeFailureKeepsCache(t *testing.T) {
	cache := NewCache("")
	require.NoError(t, cache.Set("orchard", "old summary"))

	chat := &fakeChat{reply: func(llm.ChatRequest) (string, error) { return "", errors.New("model down") }}
	b := NewBuilder(orchardStore(), chat, cache, DefaultBuilderConfig())

	_, err := b.Resummarize(context.Background(), "orchard")
	require.Error(t, err)

	got, _, _ := cache.Get("orchard")
	assert.Equal(t, "old summary", got)

	chat.reply = func(llm.ChatRequest) (string, error) { return "   ", nil }
	_, err = b.Resummarize(context.Background(), "orchard")
	assert.ErrorIs(t, err, ErrEmptySummary)
}

func TestResummarizePersistFailureKeepsCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cache := NewCache(filepath.Join(dir, "graph_summaries.json"))
	require.NoError(t, cache.Set("orchard", "old summary"))
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0644))

	chat := &fakeChat{reply: func(llm.ChatRequest) (string, error) { return "new summary", nil }}
	b := NewBuilder(orchardStore(), chat, cache, DefaultBuilderConfig())

	_, err := b.Resummarize(context.Background(), "orchard")
	require.Error(t, err)

	got, _, _ := cache.Get("orchard")
	assert.Equal(t, "old summary", got)
}

func TestResummarizeUnknownDatabase(t *testing.T) {
	chat := &fakeChat{reply: func(llm.ChatRequest) (string, error) { return "x", nil }}
	b := NewBuilder(orchardStore(), chat, NewCache(""), DefaultBuilderConfig())

	_, err := b.Resummarize(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrUnknownDatabase)
	assert.Empty(t, chat.reqs)
}

func TestResummarizeAll(t *testing.T) {
	chat := &fakeChat{reply: func(req llm.ChatRequest) (string, error) {
		if strings.Contains(req.Messages[1].Content, "Zebra") {
			return "", errors.New("rate limited")
		}
		return "Orchard.", nil
	}}
	cache := NewCache("")
	b := NewBuilder(orchardStore(), chat, cache, BuilderConfig{Concurrency: 2})

	require.NoError(t, b.ResummarizeAll(context.Background()))

	entries, err := cache.Entries()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"orchard", "Orchard."}}, entries)
	assert.Len(t, chat.reqs, 2)
}

func TestRenderGraphTruncates(t *testing.T) {
	snap := store.NewSnapshot()
	snap.Add(store.Entity{ID: "1", Type: "Person", Attributes: store.Attributes{"name": strings.Repeat("é", 100)}})

	s, err := renderGraph(snap, 51)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, " ...(truncated)"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(s, " ...(truncated)")), 51)
}
