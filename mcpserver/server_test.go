package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kgsearch"
	"github.com/brunobiangulo/kgsearch/llm"
	"github.com/brunobiangulo/kgsearch/store"
	"github.com/brunobiangulo/kgsearch/store/storetest"
)

type stubLLM struct{}

func (stubLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	user := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.HasPrefix(user, "Please summarize"):
		return &llm.ChatResponse{Content: "Scientists and collaborators."}, nil
	case strings.HasPrefix(user, "User input:"):
		return &llm.ChatResponse{Content: `[{"name": "Ada"}]`}, nil
	}
	return &llm.ChatResponse{Content: "Ada worked with Charles."}, nil
}

func (stubLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 1}
	}
	return out, nil
}

func setup(t *testing.T) (*mcp.ClientSession, kgsearch.Engine) {
	t.Helper()
	st := storetest.New("science", "films")
	g := st.Graph("science")
	ada := g.MustEntity("Person", store.Attributes{"name": "Ada"})
	charles := g.MustEntity("Person", store.Attributes{"name": "Charles"})
	g.MustRelate(ada, "works_with", charles)

	cfg := kgsearch.DefaultConfig()
	cfg.DefaultDatabase = "films"
	engine, err := kgsearch.New(cfg,
		kgsearch.WithStore(st),
		kgsearch.WithChatProvider(stubLLM{}),
		kgsearch.WithEmbeddingProvider(stubLLM{}),
		kgsearch.WithSummaryPath(""),
	)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err = New(engine).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session, engine
}

// call returns the text content of a tool result and whether it is an error.
func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session, _ := setup(t)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"ai_search", "list_databases", "select_database", "search_entities"}, names)
}

func TestSelectAndSearchEntities(t *testing.T) {
	session, _ := setup(t)

	text, isErr := call(t, session, "list_databases", map[string]any{})
	require.False(t, isErr, text)
	var dbs struct {
		Databases []string `json:"databases"`
		Current   string   `json:"current"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &dbs))
	assert.Equal(t, []string{"films", "science"}, dbs.Databases)
	assert.Equal(t, "films", dbs.Current)

	text, isErr = call(t, session, "search_entities", map[string]any{"where": map[string]any{"name": "Ada"}})
	require.False(t, isErr, text)
	assert.JSONEq(t, `[]`, text)

	_, isErr = call(t, session, "select_database", map[string]any{"name": "nowhere"})
	assert.True(t, isErr)

	text, isErr = call(t, session, "select_database", map[string]any{"name": "science"})
	require.False(t, isErr, text)

	text, isErr = call(t, session, "search_entities", map[string]any{
		"entity_type": "Person",
		"where":       map[string]any{"name": "Ada"},
	})
	require.False(t, isErr, text)
	var found []store.Entity
	require.NoError(t, json.Unmarshal([]byte(text), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "Ada", found[0].Name())

	_, isErr = call(t, session, "search_entities", map[string]any{"where": map[string]any{}})
	assert.True(t, isErr)
}

func TestAISearchTool(t *testing.T) {
	session, engine := setup(t)

	_, isErr := call(t, session, "ai_search", map[string]any{"query": "Who did Ada work with?"})
	assert.True(t, isErr, "no summaries cached yet")

	_, err := engine.Resummarize(context.Background(), "science")
	require.NoError(t, err)

	text, isErr := call(t, session, "ai_search", map[string]any{"query": "Who did Ada work with?"})
	require.False(t, isErr, text)
	var res struct {
		Answer           string   `json:"answer"`
		Triplets         []string `json:"triplets"`
		SelectedDatabase string   `json:"selected_database"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &res))
	assert.Equal(t, "science", res.SelectedDatabase)
	assert.Equal(t, []string{"Ada works_with Charles"}, res.Triplets)
	assert.Equal(t, "Ada worked with Charles.", res.Answer)
}
