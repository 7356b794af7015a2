// Package store defines the graph store contract shared by the Neo4j and
// SQLite adapters, together with the data model and the normalisation rules
// every adapter applies before a write or a query.
package store

import (
	"context"
	"fmt"
)

// Attributes holds the scalar properties of an entity or relationship.
type Attributes map[string]any

// Entity is a typed node in a graph database.
type Entity struct {
	ID         string     `json:"id"`
	Type       string     `json:"entity_type"`
	Attributes Attributes `json:"data"`
}

// Name returns the entity's display name, its "name" attribute.
func (e Entity) Name() string {
	return e.Attributes.Name()
}

// Name returns the "name" attribute rendered as text, or "" when unset.
func (a Attributes) Name() string {
	v, ok := a["name"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	ID         string     `json:"id,omitempty"`
	FromID     string     `json:"from_id"`
	ToID       string     `json:"to_id"`
	FromType   string     `json:"from_type,omitempty"`
	ToType     string     `json:"to_type,omitempty"`
	Type       string     `json:"relationship"`
	Snippet    string     `json:"snippet"`
	Attributes Attributes `json:"data,omitempty"`
}

// SnippetOf returns the "snippet" attribute when present, else the type.
func SnippetOf(relType string, attrs Attributes) string {
	if s, ok := attrs["snippet"].(string); ok && s != "" {
		return s
	}
	return relType
}

// Snapshot is a full materialisation of one graph database.
type Snapshot struct {
	// Entities is keyed by entity type, then by entity id.
	Entities      map[string]map[string]Entity `json:"entities"`
	Relationships []Relationship               `json:"relationships"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Entities:      make(map[string]map[string]Entity),
		Relationships: []Relationship{},
	}
}

// Add records e under its type.
func (s *Snapshot) Add(e Entity) {
	byID, ok := s.Entities[e.Type]
	if !ok {
		byID = make(map[string]Entity)
		s.Entities[e.Type] = byID
	}
	byID[e.ID] = e
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int {
	n := 0
	for _, byID := range s.Entities {
		n += len(byID)
	}
	return n
}

// Constraint is one equality condition on an entity attribute.
type Constraint struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s=%v", c.Field, c.Value)
}

// Store lists graph databases and opens handles onto them.
type Store interface {
	// ListDatabases returns the names of the databases the store serves.
	ListDatabases(ctx context.Context) ([]string, error)

	// Open returns a handle scoped to the named database. It returns
	// ErrUnknownDatabase when no such database exists.
	Open(ctx context.Context, name string) (Graph, error)

	Close() error
}

// Graph is a handle onto a single graph database. Callers close it when the
// operation that opened it completes.
type Graph interface {
	Name() string

	CreateEntity(ctx context.Context, entityType string, attrs Attributes) (string, error)
	// GetEntity returns ErrEntityNotFound when no entity of that type has the id.
	GetEntity(ctx context.Context, entityType, id string) (*Entity, error)
	GetAllEntities(ctx context.Context, entityType string) (map[string]Attributes, error)
	// UpdateEntity replaces all attributes. It reports false when the entity does not exist.
	UpdateEntity(ctx context.Context, entityType, id string, attrs Attributes) (bool, error)
	// DeleteEntity removes the entity and every relationship touching it.
	DeleteEntity(ctx context.Context, entityType, id string) (bool, error)

	// CreateRelationship fails with ErrEndpointNotFound when either end is missing.
	CreateRelationship(ctx context.Context, rel Relationship) (string, error)

	// SearchEntities returns entities of any type matching every constraint.
	SearchEntities(ctx context.Context, constraints []Constraint) ([]Entity, error)
	SearchEntitiesOfType(ctx context.Context, entityType string, constraints []Constraint) ([]Entity, error)

	// SearchRelationships honours only the "name" constraint: it resolves the
	// first entity carrying that name and returns every relationship touching
	// it, in either direction.
	SearchRelationships(ctx context.Context, constraints []Constraint) ([]Relationship, error)

	// PropertyKeys lists the attribute names in use across all entities.
	PropertyKeys(ctx context.Context) ([]string, error)

	Snapshot(ctx context.Context) (*Snapshot, error)

	Close() error
}

// NameConstraint returns the value of the first "name" constraint.
func NameConstraint(constraints []Constraint) (any, bool) {
	for _, c := range constraints {
		if c.Field == "name" {
			return c.Value, true
		}
	}
	return nil, false
}

// Creator is implemented by stores that can create databases on demand.
type Creator interface {
	CreateDatabase(ctx context.Context, name string) error
}
