// Package mcpserver exposes the search engine as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/brunobiangulo/kgsearch"
	"github.com/brunobiangulo/kgsearch/search"
	"github.com/brunobiangulo/kgsearch/store"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// New creates an MCP server with all tools registered. Each server carries
// its own database selection.
func New(engine kgsearch.Engine) *mcp.Server {
	t := &Tools{Engine: engine, Session: engine.NewSession()}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "kgsearch",
		Version: Version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ai_search",
		Description: "Answer a natural-language question from the knowledge graph whose summary best matches it",
	}, t.AISearch)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_databases",
		Description: "List the available graph databases and the one currently selected",
	}, t.ListDatabases)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "select_database",
		Description: "Switch the database used by search_entities for this session",
	}, t.SelectDatabase)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_entities",
		Description: "Find entities whose attributes equal every given value (requires at least one condition)",
	}, t.SearchEntities)

	return srv
}

// Tools holds what the tool handlers need.
type Tools struct {
	Engine  kgsearch.Engine
	Session *kgsearch.Session
}

type AISearchInput struct {
	Query string `json:"query" jsonschema:"The question to answer"`
}

type ListDatabasesInput struct{}

type SelectDatabaseInput struct {
	Name string `json:"name" jsonschema:"Database to select"`
}

type SearchEntitiesInput struct {
	EntityType string         `json:"entity_type,omitempty" jsonschema:"Restrict results to this entity type"`
	Where      map[string]any `json:"where" jsonschema:"Attribute name to required value, e.g. {\"name\": \"Ada\"}"`
}

func (t *Tools) AISearch(ctx context.Context, _ *mcp.CallToolRequest, input AISearchInput) (*mcp.CallToolResult, any, error) {
	if input.Query == "" {
		return toolError("query is required"), nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	res, err := t.Engine.Search(ctx, input.Query)
	if err != nil {
		var se *search.StageError
		if errors.Is(err, search.ErrAnswerGeneration) && errors.As(err, &se) && len(se.Triplets) > 0 {
			return toolError("Answer generation failed (retryable): %v\nRelationships found: %v", err, se.Triplets), nil, nil
		}
		return toolError("Search failed: %v", err), nil, nil
	}
	return toolJSON(res)
}

func (t *Tools) ListDatabases(ctx context.Context, _ *mcp.CallToolRequest, _ ListDatabasesInput) (*mcp.CallToolResult, any, error) {
	names, err := t.Engine.ListDatabases(ctx)
	if err != nil {
		return toolError("Failed to list databases: %v", err), nil, nil
	}
	if names == nil {
		names = []string{}
	}
	return toolJSON(map[string]any{
		"databases": names,
		"current":   t.Session.Current(),
	})
}

func (t *Tools) SelectDatabase(ctx context.Context, _ *mcp.CallToolRequest, input SelectDatabaseInput) (*mcp.CallToolResult, any, error) {
	if err := t.Session.Select(ctx, input.Name); err != nil {
		return toolError("Failed to select %q: %v", input.Name, err), nil, nil
	}
	return toolJSON(map[string]string{"database": input.Name})
}

func (t *Tools) SearchEntities(ctx context.Context, _ *mcp.CallToolRequest, input SearchEntitiesInput) (*mcp.CallToolResult, any, error) {
	if len(input.Where) == 0 {
		return toolError("at least one condition is required"), nil, nil
	}
	fields := make([]string, 0, len(input.Where))
	for k := range input.Where {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	constraints := make([]store.Constraint, 0, len(fields))
	for _, f := range fields {
		constraints = append(constraints, store.Constraint{Field: f, Value: input.Where[f]})
	}

	g, err := t.Session.Open(ctx)
	if err != nil {
		return toolError("Failed to open database: %v", err), nil, nil
	}
	defer g.Close()

	var found []store.Entity
	if input.EntityType == "" {
		found, err = g.SearchEntities(ctx, constraints)
	} else {
		found, err = g.SearchEntitiesOfType(ctx, input.EntityType, constraints)
	}
	if err != nil {
		return toolError("Search failed: %v", err), nil, nil
	}
	if found == nil {
		found = []store.Entity{}
	}
	return toolJSON(found)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
