package neo4j

import (
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/brunobiangulo/kgsearch/store"
)

// searchCypher builds a conjunctive equality match. Labels and property
// names are validated identifiers; values travel as parameters.
func searchCypher(entityType string, constraints []store.Constraint) (string, map[string]any, error) {
	constraints, err := store.NormalizeConstraints(constraints)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("MATCH (n")
	if entityType != "" {
		fmt.Fprintf(&b, ":`%s`", entityType)
	}
	b.WriteString(") WHERE ")

	params := make(map[string]any, len(constraints))
	for i, c := range constraints {
		if i > 0 {
			b.WriteString(" AND ")
		}
		p := fmt.Sprintf("p%d", i)
		fmt.Fprintf(&b, "n.`%s` = $%s", c.Field, p)
		params[p] = c.Value
	}
	b.WriteString(" RETURN n")
	return b.String(), params, nil
}

func nodeEntity(rec *neo4j.Record, key string) store.Entity {
	v, _ := rec.Get(key)
	node, ok := v.(neo4j.Node)
	if !ok {
		return store.Entity{Attributes: store.Attributes{}}
	}
	e := store.Entity{
		ID:         node.ElementId,
		Attributes: props(node.Props),
	}
	if len(node.Labels) > 0 {
		e.Type = node.Labels[0]
	}
	return e
}

func relationships(records []*neo4j.Record) []store.Relationship {
	out := make([]store.Relationship, 0, len(records))
	for _, rec := range records {
		v, _ := rec.Get("r")
		r, ok := v.(neo4j.Relationship)
		if !ok {
			continue
		}
		attrs := props(r.Props)
		out = append(out, store.Relationship{
			ID:         r.ElementId,
			FromID:     r.StartElementId,
			ToID:       r.EndElementId,
			FromType:   stringValue(rec, "from_type"),
			ToType:     stringValue(rec, "to_type"),
			Type:       r.Type,
			Snippet:    store.SnippetOf(r.Type, attrs),
			Attributes: attrs,
		})
	}
	return out
}

func props(p map[string]any) store.Attributes {
	attrs := make(store.Attributes, len(p))
	for k, v := range p {
		attrs[k] = v
	}
	return attrs
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func countValue(records []*neo4j.Record) int64 {
	if len(records) == 0 {
		return 0
	}
	v, _ := records[0].Get("c")
	n, _ := v.(int64)
	return n
}
