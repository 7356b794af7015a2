// Package storetest provides an in-memory graph store for tests. It applies
// the same normalisation and search rules as the real adapters.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/brunobiangulo/kgsearch/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu  sync.Mutex
	dbs map[string]*Graph
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Creator = (*Store)(nil)
	_ store.Graph   = (*Graph)(nil)
)

// New returns a store holding an empty database for each name.
func New(names ...string) *Store {
	s := &Store{dbs: make(map[string]*Graph)}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add creates (or returns) the named database.
func (s *Store) Add(name string) *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.dbs[name]; ok {
		return g
	}
	g := &Graph{name: name}
	s.dbs[name] = g
	return g
}

// Graph returns the named database, or nil.
func (s *Store) Graph(name string) *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dbs[name]
}

func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.dbs))
	for n := range s.dbs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Open(ctx context.Context, name string) (store.Graph, error) {
	if g := s.Graph(name); g != nil {
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s", store.ErrUnknownDatabase, name)
}

func (s *Store) CreateDatabase(ctx context.Context, name string) error {
	s.Add(name)
	return nil
}

func (s *Store) Close() error { return nil }

// Graph is an in-memory store.Graph.
type Graph struct {
	name string

	mu       sync.Mutex
	seq      int
	entities []store.Entity
	rels     []store.Relationship
	err      error
}

// SetErr makes every later call fail with err wrapped as a store error.
// A nil err restores normal operation.
func (g *Graph) SetErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *Graph) Name() string { return g.name }
func (g *Graph) Close() error { return nil }

func (g *Graph) fail(op string) error {
	if g.err != nil {
		return store.Wrap(op, g.name, g.err)
	}
	return nil
}

func (g *Graph) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s%d", prefix, g.seq)
}

func (g *Graph) find(id string) int {
	return slices.IndexFunc(g.entities, func(e store.Entity) bool { return e.ID == id })
}

func (g *Graph) CreateEntity(ctx context.Context, entityType string, attrs store.Attributes) (string, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return "", err
	}
	attrs, err := store.NormalizeAttributes(attrs)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("create entity"); err != nil {
		return "", err
	}
	id := g.nextID("e")
	g.entities = append(g.entities, store.Entity{ID: id, Type: entityType, Attributes: attrs})
	return id, nil
}

func (g *Graph) GetEntity(ctx context.Context, entityType, id string) (*store.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("get entity"); err != nil {
		return nil, err
	}
	i := g.find(id)
	if i < 0 || g.entities[i].Type != entityType {
		return nil, fmt.Errorf("%w: %s %s", store.ErrEntityNotFound, entityType, id)
	}
	e := g.entities[i]
	return &e, nil
}

func (g *Graph) GetAllEntities(ctx context.Context, entityType string) (map[string]store.Attributes, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("get all entities"); err != nil {
		return nil, err
	}
	out := make(map[string]store.Attributes)
	for _, e := range g.entities {
		if e.Type == entityType {
			out[e.ID] = e.Attributes
		}
	}
	return out, nil
}

func (g *Graph) UpdateEntity(ctx context.Context, entityType, id string, attrs store.Attributes) (bool, error) {
	attrs, err := store.NormalizeAttributes(attrs)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("update entity"); err != nil {
		return false, err
	}
	i := g.find(id)
	if i < 0 || g.entities[i].Type != entityType {
		return false, nil
	}
	g.entities[i].Attributes = attrs
	return true, nil
}

func (g *Graph) DeleteEntity(ctx context.Context, entityType, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("delete entity"); err != nil {
		return false, err
	}
	i := g.find(id)
	if i < 0 || g.entities[i].Type != entityType {
		return false, nil
	}
	g.entities = slices.Delete(g.entities, i, i+1)
	g.rels = slices.DeleteFunc(g.rels, func(r store.Relationship) bool {
		return r.FromID == id || r.ToID == id
	})
	return true, nil
}

func (g *Graph) CreateRelationship(ctx context.Context, rel store.Relationship) (string, error) {
	rel.Type = store.NormalizeRelationType(rel.Type)
	if err := store.CheckLabel(rel.Type); err != nil {
		return "", err
	}
	attrs, err := store.NormalizeAttributes(rel.Attributes)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("create relationship"); err != nil {
		return "", err
	}
	from, to := g.find(rel.FromID), g.find(rel.ToID)
	if from < 0 || to < 0 {
		return "", store.Wrap("create relationship", g.name,
			fmt.Errorf("%w: %s -> %s", store.ErrEndpointNotFound, rel.FromID, rel.ToID))
	}
	rel.ID = g.nextID("r")
	rel.Attributes = attrs
	rel.FromType = g.entities[from].Type
	rel.ToType = g.entities[to].Type
	rel.Snippet = store.SnippetOf(rel.Type, attrs)
	g.rels = append(g.rels, rel)
	return rel.ID, nil
}

func (g *Graph) SearchEntities(ctx context.Context, constraints []store.Constraint) ([]store.Entity, error) {
	return g.search("", constraints)
}

func (g *Graph) SearchEntitiesOfType(ctx context.Context, entityType string, constraints []store.Constraint) ([]store.Entity, error) {
	return g.search(entityType, constraints)
}

func (g *Graph) search(entityType string, constraints []store.Constraint) ([]store.Entity, error) {
	constraints, err := store.NormalizeConstraints(constraints)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("search entities"); err != nil {
		return nil, err
	}
	out := []store.Entity{}
	for _, e := range g.entities {
		if entityType != "" && e.Type != entityType {
			continue
		}
		if matches(e.Attributes, constraints) {
			out = append(out, e)
		}
	}
	return out, nil
}

func matches(attrs store.Attributes, constraints []store.Constraint) bool {
	for _, c := range constraints {
		v, ok := attrs[c.Field]
		if !ok {
			return false
		}
		if a, ok := v.(int64); ok {
			if f, ok := c.Value.(float64); ok && float64(a) == f {
				continue
			}
		}
		if v != c.Value {
			return false
		}
	}
	return true
}

func (g *Graph) SearchRelationships(ctx context.Context, constraints []store.Constraint) ([]store.Relationship, error) {
	name, ok := store.NameConstraint(constraints)
	if !ok {
		return []store.Relationship{}, nil
	}
	name, _ = store.Scalar(name)
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("search relationships"); err != nil {
		return nil, err
	}
	i := slices.IndexFunc(g.entities, func(e store.Entity) bool { return e.Attributes["name"] == name })
	out := []store.Relationship{}
	if i < 0 {
		return out, nil
	}
	id := g.entities[i].ID
	for _, r := range g.rels {
		if r.FromID == id || r.ToID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *Graph) PropertyKeys(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("property keys"); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, e := range g.entities {
		for k := range e.Attributes {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *Graph) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("snapshot"); err != nil {
		return nil, err
	}
	snap := store.NewSnapshot()
	for _, e := range g.entities {
		snap.Add(e)
	}
	snap.Relationships = slices.Clone(g.rels)
	if snap.Relationships == nil {
		snap.Relationships = []store.Relationship{}
	}
	return snap, nil
}

// MustEntity creates an entity or panics; for test fixtures.
func (g *Graph) MustEntity(entityType string, attrs store.Attributes) string {
	id, err := g.CreateEntity(context.Background(), entityType, attrs)
	if err != nil {
		panic(err)
	}
	return id
}

// MustRelate creates a relationship or panics; for test fixtures.
func (g *Graph) MustRelate(from, relType, to string) string {
	id, err := g.CreateRelationship(context.Background(), store.Relationship{FromID: from, ToID: to, Type: relType})
	if err != nil {
		panic(err)
	}
	return id
}
