//go:build cgo

package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/kgsearch/store"
)

func newTestGraph(t *testing.T) (*Store, store.Graph) {
	t.Helper()
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.CreateDatabase(ctx, "orchard"))
	g, err := s.Open(ctx, "orchard")
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return s, g
}

// ---------------------------------------------------------------------------
// Databases
// ---------------------------------------------------------------------------

func TestListDatabases(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	names, err := s.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, s.CreateDatabase(ctx, "zoo"))
	require.NoError(t, s.CreateDatabase(ctx, "apples"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0644))

	names, err = s.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"apples", "zoo"}, names)
}

func TestOpenUnknown(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrUnknownDatabase)

	_, err = s.Open(context.Background(), "../escape")
	assert.ErrorIs(t, err, store.ErrUnknownDatabase)
}

func TestMigrationsRecorded(t *testing.T) {
	_, g := newTestGraph(t)
	var v int
	require.NoError(t, g.(*graph).db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&v))
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

func TestEntityCRUD(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)

	id, err := g.CreateEntity(ctx, "Person", store.Attributes{"name": "Johnny", "birth place": "Leominster", "born": 1774})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	e, err := g.GetEntity(ctx, "Person", id)
	require.NoError(t, err)
	assert.Equal(t, "Person", e.Type)
	assert.Equal(t, store.Attributes{"name": "Johnny", "birth_place": "Leominster", "born": int64(1774)}, e.Attributes)

	_, err = g.GetEntity(ctx, "Fruit", id)
	assert.ErrorIs(t, err, store.ErrEntityNotFound)

	ok, err := g.UpdateEntity(ctx, "Person", id, store.Attributes{"name": "John Chapman"})
	require.NoError(t, err)
	assert.True(t, ok)

	e, err = g.GetEntity(ctx, "Person", id)
	require.NoError(t, err)
	assert.Equal(t, store.Attributes{"name": "John Chapman"}, e.Attributes, "update replaces all attributes")

	ok, err = g.UpdateEntity(ctx, "Person", id, store.Attributes{"home town": "Springfield"})
	require.NoError(t, err)
	assert.True(t, ok)

	e, err = g.GetEntity(ctx, "Person", id)
	require.NoError(t, err)
	assert.Equal(t, store.Attributes{"home_town": "Springfield"}, e.Attributes)

	ok, err = g.UpdateEntity(ctx, "Person", "nope", store.Attributes{"name": "x"})
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := g.GetAllEntities(ctx, "Person")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, id)

	ok, err = g.DeleteEntity(ctx, "Person", id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.DeleteEntity(ctx, "Person", id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateEntityValidation(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)

	_, err := g.CreateEntity(ctx, "Person) DELETE", store.Attributes{"name": "x"})
	assert.ErrorIs(t, err, store.ErrInvalidLabel)

	_, err = g.CreateEntity(ctx, "Person", store.Attributes{"tags": []string{"a"}})
	assert.ErrorIs(t, err, store.ErrInvalidAttributes)
}

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

func seedOrchard(t *testing.T, g store.Graph) (johnny, apple, seed string) {
	t.Helper()
	ctx := context.Background()
	var err error
	johnny, err = g.CreateEntity(ctx, "Person", store.Attributes{"name": "Johnny"})
	require.NoError(t, err)
	apple, err = g.CreateEntity(ctx, "Fruit", store.Attributes{"name": "Apple", "color": "red"})
	require.NoError(t, err)
	seed, err = g.CreateEntity(ctx, "Thing", store.Attributes{"name": "Seed"})
	require.NoError(t, err)

	_, err = g.CreateRelationship(ctx, store.Relationship{FromID: johnny, ToID: apple, Type: "planted"})
	require.NoError(t, err)
	_, err = g.CreateRelationship(ctx, store.Relationship{FromID: apple, ToID: seed, Type: "grows from",
		Attributes: store.Attributes{"snippet": "apples grow from seeds"}})
	require.NoError(t, err)
	return johnny, apple, seed
}

func TestCreateRelationshipMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)
	johnny, err := g.CreateEntity(ctx, "Person", store.Attributes{"name": "Johnny"})
	require.NoError(t, err)

	_, err = g.CreateRelationship(ctx, store.Relationship{FromID: johnny, ToID: "ghost", Type: "planted"})
	assert.ErrorIs(t, err, store.ErrEndpointNotFound)
	assert.ErrorIs(t, err, store.ErrStore)
}

func TestSearchRelationships(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)
	johnny, apple, seed := seedOrchard(t, g)

	rels, err := g.SearchRelationships(ctx, []store.Constraint{{Field: "name", Value: "Apple"}})
	require.NoError(t, err)
	require.Len(t, rels, 2)

	assert.Equal(t, johnny, rels[0].FromID)
	assert.Equal(t, apple, rels[0].ToID)
	assert.Equal(t, "planted", rels[0].Type)
	assert.Equal(t, "planted", rels[0].Snippet)
	assert.Equal(t, "Person", rels[0].FromType)
	assert.Equal(t, "Fruit", rels[0].ToType)

	assert.Equal(t, seed, rels[1].ToID)
	assert.Equal(t, "grows_from", rels[1].Type)
	assert.Equal(t, "apples grow from seeds", rels[1].Snippet)

	rels, err = g.SearchRelationships(ctx, []store.Constraint{{Field: "color", Value: "red"}})
	require.NoError(t, err)
	assert.Empty(t, rels, "only name constraints are honoured")

	rels, err = g.SearchRelationships(ctx, []store.Constraint{{Field: "name", Value: "Pear"}})
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestDeleteEntityDetaches(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)
	_, apple, _ := seedOrchard(t, g)

	ok, err := g.DeleteEntity(ctx, "Fruit", apple)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := g.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Relationships)
	assert.Equal(t, 2, snap.Len())
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func TestSearchEntities(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)
	_, apple, _ := seedOrchard(t, g)
	_, err := g.CreateEntity(ctx, "Fruit", store.Attributes{"name": "Cherry", "color": "red", "sweet": true, "weight": 8})
	require.NoError(t, err)

	tests := []struct {
		name        string
		entityType  string
		constraints []store.Constraint
		want        []string
	}{
		{"by name", "", []store.Constraint{{Field: "name", Value: "Apple"}}, []string{"Apple"}},
		{"conjunctive", "", []store.Constraint{{Field: "color", Value: "red"}, {Field: "name", Value: "Cherry"}}, []string{"Cherry"}},
		{"shared value", "Fruit", []store.Constraint{{Field: "color", Value: "red"}}, []string{"Apple", "Cherry"}},
		{"wrong type", "Person", []store.Constraint{{Field: "color", Value: "red"}}, nil},
		{"bool", "", []store.Constraint{{Field: "sweet", Value: true}}, []string{"Cherry"}},
		{"int", "", []store.Constraint{{Field: "weight", Value: 8}}, []string{"Cherry"}},
		{"normalised field", "", []store.Constraint{{Field: " name ", Value: "Apple"}}, []string{"Apple"}},
		{"no match", "", []store.Constraint{{Field: "name", Value: "Pear"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got []store.Entity
				err error
			)
			if tt.entityType == "" {
				got, err = g.SearchEntities(ctx, tt.constraints)
			} else {
				got, err = g.SearchEntitiesOfType(ctx, tt.entityType, tt.constraints)
			}
			require.NoError(t, err)
			var names []string
			for _, e := range got {
				names = append(names, e.Name())
			}
			assert.Equal(t, tt.want, names)
		})
	}

	got, err := g.SearchEntities(ctx, []store.Constraint{{Field: "name", Value: "Apple"}})
	require.NoError(t, err)
	assert.Equal(t, apple, got[0].ID)

	_, err = g.SearchEntities(ctx, nil)
	assert.ErrorIs(t, err, store.ErrNoConstraints)
}

func TestPropertyKeys(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)

	keys, err := g.PropertyKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	seedOrchard(t, g)
	keys, err = g.PropertyKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"color", "name"}, keys)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	_, g := newTestGraph(t)
	johnny, apple, _ := seedOrchard(t, g)

	snap, err := g.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, "Johnny", snap.Entities["Person"][johnny].Name())
	assert.Equal(t, "Apple", snap.Entities["Fruit"][apple].Name())
	require.Len(t, snap.Relationships, 2)
	assert.Equal(t, "planted", snap.Relationships[0].Type)
}
