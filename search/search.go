// Package search answers natural-language questions from a set of graph
// databases: it picks a database by summary similarity, extracts search
// constraints with a chat model, resolves them against the store, flattens
// the neighbourhood of every match into triplets and has the model phrase an
// answer.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/brunobiangulo/kgsearch/llm"
	"github.com/brunobiangulo/kgsearch/metrics"
	"github.com/brunobiangulo/kgsearch/store"
	"github.com/brunobiangulo/kgsearch/summary"
)

// Stage names a step of the search pipeline.
type Stage string

const (
	StageSelectDB   Stage = "select_db"
	StageExtract    Stage = "extract"
	StageResolve    Stage = "resolve"
	StageSynthesize Stage = "synthesize"
	StageAnswer     Stage = "answer"
)

var (
	// ErrNoSuitableDatabase is returned when no summary is cached.
	ErrNoSuitableDatabase = errors.New("search: no suitable database found for the search query")

	// ErrNoParametersExtracted is returned when the model yields no usable constraint.
	ErrNoParametersExtracted = errors.New("search: failed to generate search parameters")

	// ErrAnswerGeneration is returned when the final model call fails.
	ErrAnswerGeneration = errors.New("search: answer generation failed")
)

// StageError reports the stage a search stopped at. For answer failures it
// carries the triplets that were already built.
type StageError struct {
	Stage    Stage
	Database string
	Triplets []string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("search: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result is the outcome of a search.
type Result struct {
	Answer           string             `json:"answer"`
	Triplets         []string           `json:"triplets"`
	SelectedDatabase string             `json:"selected_database"`
	Constraints      []store.Constraint `json:"constraints"`
	// Grounded is false when nothing was found and the answer is a general
	// insight rather than a statement about the graph.
	Grounded bool `json:"grounded"`
}

const (
	answerSystemPrompt   = "You're an assistant that generates a concise answer to the user input based on the data provided following the user input."
	groundedPrompt       = "Based on the user input '%s', here are the relationships found: %s. Simply state the relations in natural language concisely."
	generalInsightPrompt = "Based on the user input '%s', no specific relationships were found. Generate a general insight."
)

// Summaries supplies the cached database summaries in insertion order.
type Summaries interface {
	Entries() ([]summary.Entry, error)
}

// Config tunes the searcher.
type Config struct {
	// ExtractModel and AnswerModel override the chat provider's model.
	ExtractModel string
	AnswerModel  string
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration
}

// Searcher runs the search pipeline. It is safe for concurrent use.
type Searcher struct {
	store     store.Store
	chat      Chatter
	summaries Summaries
	selector  *Selector
	extractor *Extractor
	cfg       Config
}

// New returns a searcher over st.
func New(st store.Store, chat Chatter, embedder Embedder, summaries Summaries, cfg Config) *Searcher {
	return &Searcher{
		store:     st,
		chat:      chat,
		summaries: summaries,
		selector:  NewSelector(embedder),
		extractor: NewExtractor(chat, cfg.ExtractModel),
		cfg:       cfg,
	}
}

// Search answers query. Failures come back as *StageError wrapping
// ErrNoSuitableDatabase, ErrNoParametersExtracted, ErrAnswerGeneration or
// the underlying store or model error.
func (s *Searcher) Search(ctx context.Context, query string) (*Result, error) {
	start := time.Now()
	res, err := s.search(ctx, query)

	outcome := "failed"
	switch {
	case err != nil:
	case res.Grounded:
		outcome = "grounded"
	default:
		outcome = "general_insight"
	}
	metrics.Searches.WithLabelValues(outcome).Inc()

	if err != nil {
		slog.Warn("search: failed", "query", query, "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return nil, err
	}
	slog.Info("search: complete",
		"database", res.SelectedDatabase,
		"constraints", len(res.Constraints),
		"triplets", len(res.Triplets),
		"grounded", res.Grounded,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (s *Searcher) search(ctx context.Context, query string) (*Result, error) {
	res := &Result{Triplets: []string{}}

	// select_db
	var sel Selection
	err := s.stage(StageSelectDB, func() error {
		entries, err := s.summaries.Entries()
		if err != nil {
			return err
		}
		var ok bool
		sel, ok, err = s.selector.Select(ctx, query, entries)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSuitableDatabase
		}
		return nil
	})
	if err != nil {
		return nil, &StageError{Stage: StageSelectDB, Err: err}
	}
	res.SelectedDatabase = sel.Database
	slog.Debug("search: database selected", "database", sel.Database, "similarity", sel.Similarity)

	g, err := s.open(ctx, sel.Database)
	if err != nil {
		return nil, &StageError{Stage: StageSelectDB, Database: sel.Database, Err: err}
	}
	defer g.Close()

	// extract
	err = s.stage(StageExtract, func() error {
		res.Constraints = s.extractor.Extract(ctx, query)
		metrics.ConstraintsExtracted.Observe(float64(len(res.Constraints)))
		if len(res.Constraints) == 0 {
			return ErrNoParametersExtracted
		}
		return nil
	})
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Database: sel.Database, Err: err}
	}

	// resolve
	var (
		entities []store.Entity
		rels     []store.Relationship
	)
	err = s.stage(StageResolve, func() error {
		var err error
		entities, rels, err = s.resolve(ctx, g, res.Constraints)
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Database: sel.Database, Err: err}
	}

	// synthesize
	err = s.stage(StageSynthesize, func() error {
		if len(entities) == 0 && len(rels) == 0 {
			return nil
		}
		sctx, cancel := s.storeContext(ctx)
		defer cancel()
		snap, err := g.Snapshot(sctx)
		if err != nil {
			return err
		}
		if t := BuildTriplets(Matched(entities), rels, snap); t != nil {
			res.Triplets = t
		}
		return nil
	})
	if err != nil {
		return nil, &StageError{Stage: StageSynthesize, Database: sel.Database, Err: err}
	}

	// answer
	res.Grounded = len(res.Triplets) > 0
	err = s.stage(StageAnswer, func() error {
		answer, err := s.answer(ctx, query, res.Triplets)
		res.Answer = answer
		return err
	})
	if err != nil {
		return nil, &StageError{
			Stage:    StageAnswer,
			Database: sel.Database,
			Triplets: res.Triplets,
			Err:      fmt.Errorf("%w: %w", ErrAnswerGeneration, err),
		}
	}
	return res, nil
}

// resolve runs every constraint on its own, so results are the union over
// constraints. Constraints on attributes no entity carries are dropped.
func (s *Searcher) resolve(ctx context.Context, g store.Graph, constraints []store.Constraint) ([]store.Entity, []store.Relationship, error) {
	sctx, cancel := s.storeContext(ctx)
	keys, err := g.PropertyKeys(sctx)
	cancel()
	if err != nil {
		return nil, nil, err
	}

	var (
		entities []store.Entity
		rels     []store.Relationship
		seenE    = make(map[string]bool)
		seenR    = make(map[string]bool)
	)
	for _, c := range constraints {
		if !slices.Contains(keys, c.Field) {
			slog.Debug("search: dropping constraint on unknown attribute", "constraint", c.String())
			continue
		}
		one := []store.Constraint{c}

		sctx, cancel := s.storeContext(ctx)
		found, err := g.SearchEntities(sctx, one)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		related, err := g.SearchRelationships(sctx, one)
		cancel()
		if err != nil {
			return nil, nil, err
		}

		for _, e := range found {
			if !seenE[e.ID] {
				seenE[e.ID] = true
				entities = append(entities, e)
			}
		}
		for _, r := range related {
			key := r.ID
			if key == "" {
				key = r.FromID + "|" + r.Type + "|" + r.ToID
			}
			if !seenR[key] {
				seenR[key] = true
				rels = append(rels, r)
			}
		}
	}
	return entities, rels, nil
}

func (s *Searcher) answer(ctx context.Context, query string, triplets []string) (string, error) {
	prompt := fmt.Sprintf(generalInsightPrompt, query)
	if len(triplets) > 0 {
		prompt = fmt.Sprintf(groundedPrompt, query, strings.Join(triplets, ", "))
	}
	resp, err := s.chat.Chat(ctx, llm.ChatRequest{
		Model:    s.cfg.AnswerModel,
		Messages: []llm.Message{llm.System(answerSystemPrompt), llm.User(prompt)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Searcher) open(ctx context.Context, database string) (store.Graph, error) {
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.store.Open(sctx, database)
}

func (s *Searcher) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Searcher) stage(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveStage(string(stage), outcome, start)
	return err
}
