package search

import (
	"fmt"

	"github.com/brunobiangulo/kgsearch/store"
)

const unknownName = "Unknown"

// MatchedEntity is an entity found for a query. CorrelationID links it to
// relationships: the store id for persisted entities, or a caller-assigned
// id for entities that are not stored yet. Relationships whose other end is
// ExcludeID are left out of its expansion.
type MatchedEntity struct {
	CorrelationID string
	Name          string
	ExcludeID     string
}

// Matched converts store entities into matched entities.
func Matched(entities []store.Entity) []MatchedEntity {
	out := make([]MatchedEntity, 0, len(entities))
	for _, e := range entities {
		out = append(out, MatchedEntity{CorrelationID: e.ID, Name: e.Name()})
	}
	return out
}

// BuildTriplets flattens the given relationships and the one-hop
// neighbourhood of every matched entity into "subject relation object"
// strings. Direct relationships come first, then each entity's expansion in
// input order. A triplet appears once, at its first position.
func BuildTriplets(entities []MatchedEntity, rels []store.Relationship, snap *store.Snapshot) []string {
	names := make(map[string]string, len(entities))
	for _, e := range entities {
		if e.CorrelationID != "" {
			names[e.CorrelationID] = e.Name
		}
	}
	if snap != nil {
		for _, byID := range snap.Entities {
			for id, ent := range byID {
				if _, ok := names[id]; !ok {
					names[id] = ent.Name()
				}
			}
		}
	}

	var (
		out  []string
		seen = make(map[string]bool)
	)
	emit := func(r store.Relationship) {
		t := fmt.Sprintf("%s %s %s", nameOf(names, r.FromID), r.Type, nameOf(names, r.ToID))
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	for _, r := range rels {
		emit(r)
	}
	if snap == nil {
		return out
	}
	for _, e := range entities {
		if e.CorrelationID == "" {
			continue
		}
		for _, r := range snap.Relationships {
			switch {
			case r.FromID == e.CorrelationID && (e.ExcludeID == "" || r.ToID != e.ExcludeID):
				emit(r)
			case r.ToID == e.CorrelationID && (e.ExcludeID == "" || r.FromID != e.ExcludeID):
				emit(r)
			}
		}
	}
	return out
}

func nameOf(names map[string]string, id string) string {
	if n := names[id]; n != "" {
		return n
	}
	return unknownName
}
