// Package kgsearch wires a graph store, chat and embedding providers, the
// summary cache and the search pipeline into one engine.
package kgsearch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brunobiangulo/kgsearch/llm"
	"github.com/brunobiangulo/kgsearch/search"
	"github.com/brunobiangulo/kgsearch/store"
	"github.com/brunobiangulo/kgsearch/store/neo4j"
	"github.com/brunobiangulo/kgsearch/store/sqlite"
	"github.com/brunobiangulo/kgsearch/summary"
)

// Engine is the main entry point for knowledge-graph search.
type Engine interface {
	// Search answers a natural-language question from the best matching database.
	Search(ctx context.Context, query string) (*search.Result, error)

	// ListDatabases returns the names of all graph databases.
	ListDatabases(ctx context.Context) ([]string, error)

	// Open returns a handle onto the named database, or the default database
	// when name is empty. The caller closes it.
	Open(ctx context.Context, name string) (store.Graph, error)

	// CreateDatabase creates a database when the store supports it.
	CreateDatabase(ctx context.Context, name string) error

	// Resummarize rebuilds and caches the summary of one database.
	Resummarize(ctx context.Context, name string) (string, error)

	// ResummarizeAll rebuilds every summary.
	ResummarizeAll(ctx context.Context) error

	// Summaries returns the cached summaries in insertion order.
	Summaries() ([]summary.Entry, error)

	// DeleteSummary drops one cached summary, reporting whether it existed.
	DeleteSummary(name string) (bool, error)

	// DefaultDatabase is the database new sessions start with.
	DefaultDatabase() string

	// NewSession returns a session positioned on the default database.
	NewSession() *Session

	// Start begins periodic summary refresh if configured.
	Start() error

	// Close stops the scheduler and releases the store.
	Close() error
}

// Option overrides a component New would otherwise build from Config.
type Option func(*options)

type options struct {
	store     store.Store
	chatLLM   llm.Provider
	embedLLM  llm.Provider
	cachePath *string
}

// WithStore uses st instead of the configured backend. The engine closes it.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithChatProvider uses p for completions.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chatLLM = p }
}

// WithEmbeddingProvider uses p for embeddings.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(o *options) { o.embedLLM = p }
}

// WithSummaryPath overrides Config.Summary.Path; "" keeps summaries in memory.
func WithSummaryPath(path string) Option {
	return func(o *options) { o.cachePath = &path }
}

type engine struct {
	cfg       Config
	store     store.Store
	defaultDB string

	chatLLM  llm.Provider
	embedLLM llm.Provider

	cache     *summary.Cache
	builder   *summary.Builder
	scheduler *summary.Scheduler
	searcher  *search.Searcher
}

// New creates a new engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Open store
	s := o.store
	if s == nil {
		var err error
		s, err = openStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	defaultDB, err := resolveDefaultDatabase(cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Create LLM providers
	chatLLM := o.chatLLM
	if chatLLM == nil {
		chatLLM, err = llm.NewProvider(cfg.Chat.provider())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating chat provider: %w", err)
		}
	}
	embedLLM := o.embedLLM
	if embedLLM == nil {
		embedLLM, err = llm.NewProvider(cfg.Embedding.provider())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}
	chatLLM = llm.WithTimeouts(chatLLM, cfg.Timeouts.Chat.Std(), cfg.Timeouts.Embed.Std())
	embedLLM = llm.WithTimeouts(embedLLM, cfg.Timeouts.Chat.Std(), cfg.Timeouts.Embed.Std())

	cachePath := cfg.Summary.Path
	if o.cachePath != nil {
		cachePath = *o.cachePath
	}
	cache := summary.NewCache(cachePath)
	if err := cache.Load(); err != nil {
		// A corrupt cache only costs a re-summarise; start empty.
		slog.Warn("kgsearch: summary cache unreadable", "path", cachePath, "error", err)
	}

	builderCfg := summary.DefaultBuilderConfig()
	builderCfg.MaxTokens = cfg.Summary.MaxTokens
	builderCfg.Concurrency = cfg.Summary.Concurrency
	builderCfg.StoreTimeout = cfg.Timeouts.Store.Std()
	builder := summary.NewBuilder(s, chatLLM, cache, builderCfg)

	// A refresh run may take up to one interval.
	interval := cfg.Summary.RefreshInterval.Std()
	scheduler := summary.NewScheduler(builder, interval, interval)

	searcher := search.New(s, chatLLM, embedLLM, cache, search.Config{
		StoreTimeout: cfg.Timeouts.Store.Std(),
	})

	return &engine{
		cfg:       cfg,
		store:     s,
		defaultDB: defaultDB,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		cache:     cache,
		builder:   builder,
		scheduler: scheduler,
		searcher:  searcher,
	}, nil
}

func openStore(cfg Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "neo4j":
		ctx := context.Background()
		if d := cfg.Timeouts.Store.Std(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return neo4j.New(ctx, neo4j.Config{
			URI:      cfg.Store.Neo4jURI,
			Username: cfg.Store.Neo4jUsername,
			Password: cfg.Store.Neo4jPassword,
		})
	default:
		return sqlite.New(cfg.Store.SQLiteDir)
	}
}

// resolveDefaultDatabase applies the backend default and makes sure a SQLite
// default database exists.
func resolveDefaultDatabase(cfg Config, s store.Store) (string, error) {
	name := cfg.DefaultDatabase
	if name == "" {
		name = "default"
		if cfg.Store.Backend == "neo4j" {
			name = "neo4j"
		}
	}
	if c, ok := s.(store.Creator); ok && cfg.Store.Backend != "neo4j" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.CreateDatabase(ctx, name); err != nil {
			return "", fmt.Errorf("creating default database %s: %w", name, err)
		}
	}
	return name, nil
}

func (e *engine) Search(ctx context.Context, query string) (*search.Result, error) {
	return e.searcher.Search(ctx, query)
}

func (e *engine) ListDatabases(ctx context.Context) ([]string, error) {
	return e.store.ListDatabases(ctx)
}

func (e *engine) Open(ctx context.Context, name string) (store.Graph, error) {
	if name == "" {
		name = e.defaultDB
	}
	if name == "" {
		return nil, ErrNoDatabaseSelected
	}
	return e.store.Open(ctx, name)
}

func (e *engine) CreateDatabase(ctx context.Context, name string) error {
	c, ok := e.store.(store.Creator)
	if !ok {
		return ErrCreateUnsupported
	}
	if err := c.CreateDatabase(ctx, name); err != nil {
		return err
	}
	slog.Info("kgsearch: database created", "database", name)
	return nil
}

func (e *engine) Resummarize(ctx context.Context, name string) (string, error) {
	// Fail fast with ErrUnknownDatabase instead of a model call on nothing.
	g, err := e.store.Open(ctx, name)
	if err != nil {
		return "", err
	}
	g.Close()
	return e.builder.Resummarize(ctx, name)
}

func (e *engine) ResummarizeAll(ctx context.Context) error {
	return e.builder.ResummarizeAll(ctx)
}

func (e *engine) Summaries() ([]summary.Entry, error) {
	return e.cache.Entries()
}

func (e *engine) DeleteSummary(name string) (bool, error) {
	return e.cache.Delete(name)
}

func (e *engine) DefaultDatabase() string { return e.defaultDB }

func (e *engine) NewSession() *Session {
	return NewSession(e, e.defaultDB)
}

func (e *engine) Start() error {
	return e.scheduler.Start()
}

// Close shuts down the engine.
func (e *engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.scheduler.Stop(ctx)
	return e.store.Close()
}
