// Package neo4j serves graph databases from a Neo4j server through the
// official Go driver. Every operation runs in its own session.
package neo4j

import (
	"context"
	"fmt"
	"slices"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/kgsearch/store"
)

// Config holds connection settings for a Neo4j server.
type Config struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store lists and opens the databases of one Neo4j server.
type Store struct {
	driver neo4j.DriverWithContext
}

var _ store.Store = (*Store)(nil)

// New connects to the server and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, store.Wrap("connect", "", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, store.Wrap("connect", "", fmt.Errorf("verifying connectivity to %s: %w", cfg.URI, err))
	}
	return &Store{driver: driver}, nil
}

// ListDatabases runs SHOW DATABASES against the system database. The system
// database itself is not listed.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	records, err := run(ctx, s.driver, "system", neo4j.AccessModeRead, "SHOW DATABASES YIELD name RETURN DISTINCT name", nil)
	if err != nil {
		return nil, store.Wrap("list databases", "", err)
	}
	var names []string
	for _, rec := range records {
		name, _ := rec.Get("name")
		if n, ok := name.(string); ok && n != "system" {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Open returns a handle onto an existing database. The handle holds no
// connection of its own.
func (s *Store) Open(ctx context.Context, name string) (store.Graph, error) {
	names, err := s.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownDatabase, name)
	}
	return &graph{driver: s.driver, name: name}, nil
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

// run executes one query in a managed transaction of a fresh session and
// collects every record.
func run(ctx context.Context, driver neo4j.DriverWithContext, database string, mode neo4j.AccessMode, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: database,
		AccessMode:   mode,
	})
	defer session.Close(ctx)

	work := func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	}

	var (
		out any
		err error
	)
	if mode == neo4j.AccessModeWrite {
		out, err = session.ExecuteWrite(ctx, work)
	} else {
		out, err = session.ExecuteRead(ctx, work)
	}
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}
