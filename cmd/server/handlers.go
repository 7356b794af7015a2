package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/brunobiangulo/kgsearch"
	"github.com/brunobiangulo/kgsearch/search"
	"github.com/brunobiangulo/kgsearch/store"
)

// databaseHeader selects the database for a single request.
const databaseHeader = "X-Graph-Database"

// integration is a named trigger reachable through POST /integrations/{name}.
type integration func(ctx context.Context, body json.RawMessage) (any, error)

type handler struct {
	engine       kgsearch.Engine
	session      *kgsearch.Session
	integrations map[string]integration
}

func newHandler(e kgsearch.Engine) *handler {
	h := &handler{
		engine:  e,
		session: e.NewSession(),
	}
	h.integrations = map[string]integration{
		"ai_search": h.aiSearch,
	}
	return h
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /entities/{type}", h.handleCreateEntity)
	mux.HandleFunc("GET /entities/{type}", h.handleListEntities)
	mux.HandleFunc("GET /entities/{type}/{id}", h.handleGetEntity)
	mux.HandleFunc("PUT /entities/{type}/{id}", h.handleUpdateEntity)
	mux.HandleFunc("DELETE /entities/{type}/{id}", h.handleDeleteEntity)
	mux.HandleFunc("POST /relationships", h.handleCreateRelationship)

	mux.HandleFunc("GET /search/entities", h.handleSearchEntities)
	mux.HandleFunc("GET /search/entities/{type}", h.handleSearchEntities)
	mux.HandleFunc("GET /search/relationships", h.handleSearchRelationships)
	mux.HandleFunc("GET /graph", h.handleGraph)

	mux.HandleFunc("GET /databases", h.handleListDatabases)
	mux.HandleFunc("GET /databases/current", h.handleCurrentDatabase)
	mux.HandleFunc("POST /databases/{name}", h.handleCreateDatabase)
	mux.HandleFunc("POST /databases/{name}/select", h.handleSelectDatabase)

	mux.HandleFunc("GET /summaries", h.handleListSummaries)
	mux.HandleFunc("POST /summaries/{name}", h.handleResummarize)
	mux.HandleFunc("DELETE /summaries/{name}", h.handleDeleteSummary)

	mux.HandleFunc("POST /integrations/{name}", h.handleIntegration)

	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// database returns the database a request targets.
func (h *handler) database(r *http.Request) string {
	if name := r.Header.Get(databaseHeader); name != "" {
		return name
	}
	return h.session.Current()
}

// withGraph opens the request's database for the duration of fn.
func (h *handler) withGraph(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, g store.Graph)) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	g, err := h.engine.Open(ctx, h.database(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer g.Close()
	fn(ctx, g)
}

type entityRequest struct {
	Data store.Attributes `json:"data"`
}

// POST /entities/{type}
func (h *handler) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entityType := r.PathValue("type")
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		id, err := g.CreateEntity(ctx, entityType, req.Data)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		logWrite(r, g, "entity_created", "type", entityType, "id", id)
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	})
}

// GET /entities/{type}
func (h *handler) handleListEntities(w http.ResponseWriter, r *http.Request) {
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		all, err := g.GetAllEntities(ctx, r.PathValue("type"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	})
}

// GET /entities/{type}/{id}
func (h *handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		e, err := g.GetEntity(ctx, r.PathValue("type"), r.PathValue("id"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	})
}

// PUT /entities/{type}/{id}
func (h *handler) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entityType, id := r.PathValue("type"), r.PathValue("id")
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		ok, err := g.UpdateEntity(ctx, entityType, id, req.Data)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if !ok {
			writeErr(w, r, fmt.Errorf("%w: %s", store.ErrEntityNotFound, id))
			return
		}
		logWrite(r, g, "entity_updated", "type", entityType, "id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})
}

// DELETE /entities/{type}/{id}
func (h *handler) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	entityType, id := r.PathValue("type"), r.PathValue("id")
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		ok, err := g.DeleteEntity(ctx, entityType, id)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if !ok {
			writeErr(w, r, fmt.Errorf("%w: %s", store.ErrEntityNotFound, id))
			return
		}
		logWrite(r, g, "entity_deleted", "type", entityType, "id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})
}

// POST /relationships
func (h *handler) handleCreateRelationship(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromID       string           `json:"from_id"`
		ToID         string           `json:"to_id"`
		Relationship string           `json:"relationship"`
		Data         store.Attributes `json:"data"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FromID == "" || req.ToID == "" || req.Relationship == "" {
		writeError(w, http.StatusBadRequest, "from_id, to_id and relationship are required")
		return
	}
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		id, err := g.CreateRelationship(ctx, store.Relationship{
			FromID:     req.FromID,
			ToID:       req.ToID,
			Type:       req.Relationship,
			Attributes: req.Data,
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}
		logWrite(r, g, "relationship_created", "id", id, "from", req.FromID, "to", req.ToID)
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	})
}

// queryConstraints turns ?k=v pairs into equality constraints, sorted by
// key. Only the first value of a repeated key is used.
func queryConstraints(r *http.Request) []store.Constraint {
	q := r.URL.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]store.Constraint, 0, len(keys))
	for _, k := range keys {
		out = append(out, store.Constraint{Field: k, Value: q.Get(k)})
	}
	return out
}

// GET /search/entities[/{type}]
func (h *handler) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	constraints := queryConstraints(r)
	if len(constraints) == 0 {
		writeError(w, http.StatusBadRequest, "no search parameters provided")
		return
	}
	entityType := r.PathValue("type")
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		var (
			found []store.Entity
			err   error
		)
		if entityType == "" {
			found, err = g.SearchEntities(ctx, constraints)
		} else {
			found, err = g.SearchEntitiesOfType(ctx, entityType, constraints)
		}
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if found == nil {
			found = []store.Entity{}
		}
		writeJSON(w, http.StatusOK, found)
	})
}

// GET /search/relationships
func (h *handler) handleSearchRelationships(w http.ResponseWriter, r *http.Request) {
	constraints := queryConstraints(r)
	if len(constraints) == 0 {
		writeError(w, http.StatusBadRequest, "no search parameters provided")
		return
	}
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		rels, err := g.SearchRelationships(ctx, constraints)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if rels == nil {
			rels = []store.Relationship{}
		}
		writeJSON(w, http.StatusOK, rels)
	})
}

// GET /graph
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	h.withGraph(w, r, func(ctx context.Context, g store.Graph) {
		snap, err := g.Snapshot(ctx)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
}

// GET /databases
func (h *handler) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	names, err := h.engine.ListDatabases(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": names})
}

// GET /databases/current
func (h *handler) handleCurrentDatabase(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"database": h.database(r)})
}

// POST /databases/{name}
func (h *handler) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.engine.CreateDatabase(r.Context(), name); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"database": name})
}

// POST /databases/{name}/select
func (h *handler) handleSelectDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.session.Select(r.Context(), name); err != nil {
		writeErr(w, r, err)
		return
	}
	slog.Info("database selected", "database", name, "request_id", requestID(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"database": name})
}

// GET /summaries
func (h *handler) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Summaries()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": entries})
}

// POST /summaries/{name}
func (h *handler) handleResummarize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	name := r.PathValue("name")
	s, err := h.engine.Resummarize(ctx, name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"database": name, "summary": s})
}

// DELETE /summaries/{name}
func (h *handler) handleDeleteSummary(w http.ResponseWriter, r *http.Request) {
	ok, err := h.engine.DeleteSummary(r.PathValue("name"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "summary not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// POST /integrations/{name}
func (h *handler) handleIntegration(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	run, ok := h.integrations[name]
	if !ok {
		writeErr(w, r, fmt.Errorf("%w: %s", kgsearch.ErrIntegrationNotFound, name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	out, err := run(r.Context(), body)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// aiSearch runs the search pipeline for {"query": "..."}.
func (h *handler) aiSearch(ctx context.Context, body json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var req struct {
		Query string `json:"query"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, badRequest("invalid JSON")
		}
	}
	if req.Query == "" {
		return nil, badRequest("query is required")
	}
	return h.engine.Search(ctx, req.Query)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads a JSON request body, keeping numbers exact.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

// logWrite records a mutation of a graph database.
func logWrite(r *http.Request, g store.Graph, event string, args ...any) {
	args = append([]any{"event", event, "database", g.Name(), "request_id", requestID(r.Context())}, args...)
	slog.Info("graph write", args...)
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrEntityNotFound),
		errors.Is(err, store.ErrEndpointNotFound),
		errors.Is(err, store.ErrUnknownDatabase),
		errors.Is(err, kgsearch.ErrIntegrationNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidLabel),
		errors.Is(err, store.ErrInvalidAttributes),
		errors.Is(err, store.ErrNoConstraints),
		errors.Is(err, search.ErrNoSuitableDatabase),
		errors.Is(err, search.ErrNoParametersExtracted),
		errors.Is(err, kgsearch.ErrNoDatabaseSelected),
		errors.Is(err, kgsearch.ErrCreateUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrAnswerGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with the status it maps to. Server errors are logged
// and reported generically.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
		writeError(w, status, "internal server error")
		return
	}

	var se *search.StageError
	if status == http.StatusBadGateway && errors.As(err, &se) {
		triplets := se.Triplets
		if triplets == nil {
			triplets = []string{}
		}
		writeJSON(w, status, map[string]any{
			"error":     err.Error(),
			"retryable": true,
			"database":  se.Database,
			"triplets":  triplets,
		})
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
