package neo4j

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"

	"github.com/brunobiangulo/kgsearch/store"
)

const testPassword = "orchard-pass"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("neo4j container test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcneo4j.Run(ctx, "neo4j:5.26", tcneo4j.WithAdminPassword(testPassword))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.BoltUrl(ctx)
	require.NoError(t, err)

	s, err := New(ctx, Config{URI: uri, Username: "neo4j", Password: testPassword})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNeo4jStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	names, err := s.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "neo4j")
	assert.NotContains(t, names, "system")

	_, err = s.Open(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrUnknownDatabase)

	g, err := s.Open(ctx, "neo4j")
	require.NoError(t, err)
	defer g.Close()

	johnny, err := g.CreateEntity(ctx, "Person", store.Attributes{"name": "Johnny", "birth place": "Leominster"})
	require.NoError(t, err)
	apple, err := g.CreateEntity(ctx, "Fruit", store.Attributes{"name": "Apple", "color": "red"})
	require.NoError(t, err)

	t.Run("get", func(t *testing.T) {
		e, err := g.GetEntity(ctx, "Person", johnny)
		require.NoError(t, err)
		assert.Equal(t, "Leominster", e.Attributes["birth_place"])

		_, err = g.GetEntity(ctx, "Fruit", johnny)
		assert.ErrorIs(t, err, store.ErrEntityNotFound)
	})

	t.Run("relationships", func(t *testing.T) {
		_, err := g.CreateRelationship(ctx, store.Relationship{FromID: johnny, ToID: apple, Type: "planted"})
		require.NoError(t, err)

		_, err = g.CreateRelationship(ctx, store.Relationship{FromID: johnny, ToID: "4:missing:99", Type: "planted"})
		assert.ErrorIs(t, err, store.ErrEndpointNotFound)

		rels, err := g.SearchRelationships(ctx, []store.Constraint{{Field: "name", Value: "Apple"}})
		require.NoError(t, err)
		require.Len(t, rels, 1)
		assert.Equal(t, johnny, rels[0].FromID)
		assert.Equal(t, "Person", rels[0].FromType)
		assert.Equal(t, "Fruit", rels[0].ToType)
	})

	t.Run("search", func(t *testing.T) {
		got, err := g.SearchEntities(ctx, []store.Constraint{{Field: "color", Value: "red"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, apple, got[0].ID)

		got, err = g.SearchEntitiesOfType(ctx, "Person", []store.Constraint{{Field: "color", Value: "red"}})
		require.NoError(t, err)
		assert.Empty(t, got)

		keys, err := g.PropertyKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"birth_place", "color", "name"}, keys)
	})

	t.Run("snapshot", func(t *testing.T) {
		snap, err := g.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, snap.Len())
		assert.Len(t, snap.Relationships, 1)
	})

	t.Run("update and delete", func(t *testing.T) {
		ok, err := g.UpdateEntity(ctx, "Fruit", apple, store.Attributes{"name": "Green Apple", "home town": "Leominster"})
		require.NoError(t, err)
		assert.True(t, ok)

		e, err := g.GetEntity(ctx, "Fruit", apple)
		require.NoError(t, err)
		assert.Equal(t, store.Attributes{"name": "Green Apple", "home_town": "Leominster"}, e.Attributes)

		ok, err = g.DeleteEntity(ctx, "Fruit", apple)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = g.DeleteEntity(ctx, "Fruit", apple)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
