package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/kgsearch"
	"github.com/brunobiangulo/kgsearch/store"
)

type seedEntity struct {
	key   string
	label string
	attrs store.Attributes
}

type seedRelation struct {
	from, rel, to string
}

// corpus is loaded into fresh SQLite databases before querying.
var corpus = map[string]struct {
	entities  []seedEntity
	relations []seedRelation
}{
	"orchard": {
		entities: []seedEntity{
			{"johnny", "Person", store.Attributes{"name": "Johnny Appleseed", "born": 1774}},
			{"apple", "Plant", store.Attributes{"name": "Apple"}},
			{"ohio", "Place", store.Attributes{"name": "Ohio"}},
		},
		relations: []seedRelation{
			{"johnny", "planted", "apple"},
			{"johnny", "travelled through", "ohio"},
		},
	},
	"cinema": {
		entities: []seedEntity{
			{"heat", "Film", store.Attributes{"name": "Heat", "year": 1995}},
			{"mann", "Person", store.Attributes{"name": "Michael Mann"}},
		},
		relations: []seedRelation{
			{"mann", "directed", "heat"},
		},
	},
}

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	question := flag.String("q", "Where did Johnny Appleseed travel?", "Question to ask")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("loading .env", "error", err)
	}

	cfg, err := kgsearch.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "kgsearch-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	cfg.Store.Backend = "sqlite"
	cfg.Store.SQLiteDir = tmpDir
	cfg.Summary.Path = tmpDir + "/graph_summaries.json"
	cfg.Summary.RefreshInterval = 0

	engine, err := kgsearch.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Seed
	for name, data := range corpus {
		fmt.Fprintf(os.Stderr, "\n=== SEEDING %s ===\n", name)
		if err := seed(ctx, engine, name, data.entities, data.relations); err != nil {
			fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
			os.Exit(1)
		}
	}

	// Summarise
	fmt.Fprintf(os.Stderr, "\n=== SUMMARISING ===\n")
	for name := range corpus {
		s, err := engine.Resummarize(ctx, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "summary error for %s: %v\n", name, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", name, s)
	}

	// Query
	fmt.Fprintf(os.Stderr, "\n=== QUERYING: %s ===\n", *question)
	res, err := engine.Search(ctx, *question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\n=== ANSWER ===\n%s\n", res.Answer)
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
}

func seed(ctx context.Context, engine kgsearch.Engine, name string, entities []seedEntity, relations []seedRelation) error {
	if err := engine.CreateDatabase(ctx, name); err != nil {
		return err
	}
	g, err := engine.Open(ctx, name)
	if err != nil {
		return err
	}
	defer g.Close()

	ids := make(map[string]string, len(entities))
	for _, e := range entities {
		id, err := g.CreateEntity(ctx, e.label, e.attrs)
		if err != nil {
			return fmt.Errorf("creating %s: %w", e.key, err)
		}
		ids[e.key] = id
	}
	for _, r := range relations {
		if _, err := g.CreateRelationship(ctx, store.Relationship{
			FromID: ids[r.from],
			ToID:   ids[r.to],
			Type:   r.rel,
		}); err != nil {
			return fmt.Errorf("relating %s -> %s: %w", r.from, r.to, err)
		}
	}
	return nil
}
