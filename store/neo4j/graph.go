package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/kgsearch/store"
)

type graph struct {
	driver neo4j.DriverWithContext
	name   string
}

func (g *graph) Name() string { return g.name }

// Close is a no-op: sessions are opened per operation.
func (g *graph) Close() error { return nil }

func (g *graph) read(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	records, err := run(ctx, g.driver, g.name, neo4j.AccessModeRead, cypher, params)
	return records, store.Wrap(op, g.name, err)
}

func (g *graph) write(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	records, err := run(ctx, g.driver, g.name, neo4j.AccessModeWrite, cypher, params)
	return records, store.Wrap(op, g.name, err)
}

func (g *graph) CreateEntity(ctx context.Context, entityType string, attrs store.Attributes) (string, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return "", err
	}
	attrs, err := store.NormalizeAttributes(attrs)
	if err != nil {
		return "", err
	}
	records, err := g.write(ctx, "create entity",
		fmt.Sprintf("CREATE (n:`%s`) SET n = $attrs RETURN elementId(n) AS id", entityType),
		map[string]any{"attrs": map[string]any(attrs)})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", store.Wrap("create entity", g.name, fmt.Errorf("no id returned"))
	}
	return stringValue(records[0], "id"), nil
}

func (g *graph) GetEntity(ctx context.Context, entityType, id string) (*store.Entity, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return nil, err
	}
	records, err := g.read(ctx, "get entity",
		fmt.Sprintf("MATCH (n:`%s`) WHERE elementId(n) = $id RETURN n", entityType),
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %s", store.ErrEntityNotFound, entityType, id)
	}
	e := nodeEntity(records[0], "n")
	return &e, nil
}

func (g *graph) GetAllEntities(ctx context.Context, entityType string) (map[string]store.Attributes, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return nil, err
	}
	records, err := g.read(ctx, "get all entities", fmt.Sprintf("MATCH (n:`%s`) RETURN n", entityType), nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Attributes, len(records))
	for _, rec := range records {
		e := nodeEntity(rec, "n")
		out[e.ID] = e.Attributes
	}
	return out, nil
}

func (g *graph) UpdateEntity(ctx context.Context, entityType, id string, attrs store.Attributes) (bool, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return false, err
	}
	attrs, err := store.NormalizeAttributes(attrs)
	if err != nil {
		return false, err
	}
	records, err := g.write(ctx, "update entity",
		fmt.Sprintf("MATCH (n:`%s`) WHERE elementId(n) = $id SET n = $attrs RETURN count(n) AS c", entityType),
		map[string]any{"id": id, "attrs": map[string]any(attrs)})
	if err != nil {
		return false, err
	}
	return countValue(records) > 0, nil
}

func (g *graph) DeleteEntity(ctx context.Context, entityType, id string) (bool, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return false, err
	}
	records, err := g.write(ctx, "delete entity",
		fmt.Sprintf("MATCH (n:`%s`) WHERE elementId(n) = $id DETACH DELETE n RETURN count(*) AS c", entityType),
		map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	return countValue(records) > 0, nil
}

func (g *graph) CreateRelationship(ctx context.Context, rel store.Relationship) (string, error) {
	relType := store.NormalizeRelationType(rel.Type)
	if err := store.CheckLabel(relType); err != nil {
		return "", err
	}
	attrs, err := store.NormalizeAttributes(rel.Attributes)
	if err != nil {
		return "", err
	}
	records, err := g.write(ctx, "create relationship",
		fmt.Sprintf("MATCH (a) WHERE elementId(a) = $from MATCH (b) WHERE elementId(b) = $to "+
			"CREATE (a)-[r:`%s`]->(b) SET r = $attrs RETURN elementId(r) AS id", relType),
		map[string]any{"from": rel.FromID, "to": rel.ToID, "attrs": map[string]any(attrs)})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", store.Wrap("create relationship", g.name,
			fmt.Errorf("%w: %s -> %s", store.ErrEndpointNotFound, rel.FromID, rel.ToID))
	}
	return stringValue(records[0], "id"), nil
}

func (g *graph) SearchEntities(ctx context.Context, constraints []store.Constraint) ([]store.Entity, error) {
	return g.searchEntities(ctx, "", constraints)
}

func (g *graph) SearchEntitiesOfType(ctx context.Context, entityType string, constraints []store.Constraint) ([]store.Entity, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return nil, err
	}
	return g.searchEntities(ctx, entityType, constraints)
}

func (g *graph) searchEntities(ctx context.Context, entityType string, constraints []store.Constraint) ([]store.Entity, error) {
	cypher, params, err := searchCypher(entityType, constraints)
	if err != nil {
		return nil, err
	}
	records, err := g.read(ctx, "search entities", cypher, params)
	if err != nil {
		return nil, err
	}
	entities := make([]store.Entity, 0, len(records))
	for _, rec := range records {
		entities = append(entities, nodeEntity(rec, "n"))
	}
	return entities, nil
}

const relationshipReturn = "RETURN r, labels(startNode(r))[0] AS from_type, labels(endNode(r))[0] AS to_type"

func (g *graph) SearchRelationships(ctx context.Context, constraints []store.Constraint) ([]store.Relationship, error) {
	name, ok := store.NameConstraint(constraints)
	if !ok {
		return []store.Relationship{}, nil
	}
	name, ok = store.Scalar(name)
	if !ok {
		return nil, fmt.Errorf("%w: name is not a scalar", store.ErrInvalidAttributes)
	}
	records, err := g.read(ctx, "search relationships",
		"MATCH (n) WHERE n.name = $name WITH n LIMIT 1 MATCH (n)-[r]-() "+relationshipReturn,
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return relationships(records), nil
}

func (g *graph) PropertyKeys(ctx context.Context) ([]string, error) {
	records, err := g.read(ctx, "property keys",
		"MATCH (n) UNWIND keys(n) AS k RETURN DISTINCT k ORDER BY k", nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, stringValue(rec, "k"))
	}
	return keys, nil
}

func (g *graph) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	nodes, err := g.read(ctx, "snapshot", "MATCH (n) RETURN n", nil)
	if err != nil {
		return nil, err
	}
	rels, err := g.read(ctx, "snapshot", "MATCH ()-[r]->() "+relationshipReturn, nil)
	if err != nil {
		return nil, err
	}

	snap := store.NewSnapshot()
	for _, rec := range nodes {
		snap.Add(nodeEntity(rec, "n"))
	}
	snap.Relationships = relationships(rels)
	return snap, nil
}
