package kgsearch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/brunobiangulo/kgsearch/llm"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "KGSEARCH_"

// Config holds all configuration for the kgsearch engine.
type Config struct {
	Store StoreConfig `json:"store" envPrefix:"STORE_"`

	// LLM providers
	Chat      LLMConfig `json:"chat" envPrefix:"CHAT_"`
	Embedding LLMConfig `json:"embedding" envPrefix:"EMBED_"`

	// DefaultDatabase is the database clients start with before selecting one.
	// Empty means "neo4j" on Neo4j and "default" (created on start) on SQLite.
	DefaultDatabase string `json:"default_database" env:"DEFAULT_DATABASE"`

	Summary  SummaryConfig  `json:"summary" envPrefix:"SUMMARY_"`
	Timeouts TimeoutsConfig `json:"timeouts" envPrefix:"TIMEOUT_"`
}

// StoreConfig selects and configures the graph store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "neo4j".
	Backend string `json:"backend" env:"BACKEND"`

	// SQLiteDir holds one <name>.db file per graph database.
	SQLiteDir string `json:"sqlite_dir" env:"SQLITE_DIR"`

	Neo4jURI      string `json:"neo4j_uri" env:"NEO4J_URI"`
	Neo4jUsername string `json:"neo4j_username" env:"NEO4J_USERNAME"`
	Neo4jPassword string `json:"neo4j_password" env:"NEO4J_PASSWORD"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" env:"PROVIDER"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" env:"MODEL"`
	BaseURL  string `json:"base_url" env:"BASE_URL"`
	APIKey   string `json:"api_key" env:"API_KEY"`
}

func (c LLMConfig) provider() llm.Config {
	return llm.Config{
		Provider: c.Provider,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
		APIKey:   c.APIKey,
	}
}

// SummaryConfig controls the summary cache used for database selection.
type SummaryConfig struct {
	// Path of the persisted cache. Empty keeps summaries in memory.
	Path string `json:"path" env:"PATH"`
	// RefreshInterval re-summarises every database periodically; zero disables it.
	RefreshInterval Duration `json:"refresh_interval" env:"REFRESH_INTERVAL"`
	MaxTokens       int      `json:"max_tokens" env:"MAX_TOKENS"`
	Concurrency     int      `json:"concurrency" env:"CONCURRENCY"`
}

// TimeoutsConfig bounds each external call made while serving a request.
type TimeoutsConfig struct {
	Chat  Duration `json:"chat" env:"CHAT"`
	Embed Duration `json:"embed" env:"EMBED"`
	Store Duration `json:"store" env:"STORE"`
}

// Duration is a time.Duration written as a string such as "30s" in JSON
// and environment variables.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Backend:       "sqlite",
			SQLiteDir:     "graphs",
			Neo4jURI:      "bolt://localhost:7687",
			Neo4jUsername: "neo4j",
		},
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Summary: SummaryConfig{
			Path:        "graph_summaries.json",
			MaxTokens:   100,
			Concurrency: 4,
		},
		Timeouts: TimeoutsConfig{
			Chat:  Duration(60 * time.Second),
			Embed: Duration(30 * time.Second),
			Store: Duration(30 * time.Second),
		},
	}
}

// LoadConfig builds a Config from defaults, then the JSON file at path (if
// any), then KGSEARCH_* environment variables, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, filepath.Base(path), err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLiteDir == "" {
			return fmt.Errorf("%w: store.sqlite_dir is required", ErrInvalidConfig)
		}
	case "neo4j":
		if c.Store.Neo4jURI == "" {
			return fmt.Errorf("%w: store.neo4j_uri is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}
	if c.Chat.Provider == "" {
		return fmt.Errorf("%w: chat.provider is required", ErrInvalidConfig)
	}
	if c.Embedding.Provider == "" {
		return fmt.Errorf("%w: embedding.provider is required", ErrInvalidConfig)
	}
	for name, d := range map[string]Duration{
		"timeouts.chat":            c.Timeouts.Chat,
		"timeouts.embed":           c.Timeouts.Embed,
		"timeouts.store":           c.Timeouts.Store,
		"summary.refresh_interval": c.Summary.RefreshInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	return nil
}
