// Package sqlite is an embedded graph store: every graph database is one
// SQLite file in a directory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/kgsearch/store"
)

const fileExt = ".db"

var dbNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Store serves the *.db files of one directory as graph databases.
type Store struct {
	dir string
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Creator = (*Store)(nil)
)

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the database files.
func (s *Store) Dir() string { return s.dir }

func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+fileExt))
	if err != nil {
		return nil, store.Wrap("list databases", "", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), fileExt)
		if dbNameRe.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) path(name string) (string, error) {
	if !dbNameRe.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: invalid name %q", store.ErrUnknownDatabase, name)
	}
	return filepath.Join(s.dir, name+fileExt), nil
}

// Open opens an existing database file.
func (s *Store) Open(ctx context.Context, name string) (store.Graph, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrUnknownDatabase, name)
		}
		return nil, store.Wrap("open", name, err)
	}
	return open(ctx, name, p)
}

// CreateDatabase creates the named database file if it does not exist.
func (s *Store) CreateDatabase(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	g, err := open(ctx, name, p)
	if err != nil {
		return err
	}
	return g.Close()
}

// Close is a no-op; handles own their connections.
func (s *Store) Close() error { return nil }

func open(ctx context.Context, name, path string) (*graph, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, store.Wrap("open", name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, store.Wrap("open", name, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, store.Wrap("create schema", name, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, store.Wrap("migrate", name, err)
	}
	return &graph{name: name, db: db}, nil
}

// graph is a handle onto one database file.
type graph struct {
	name string
	db   *sql.DB
}

func (g *graph) Name() string { return g.name }

func (g *graph) Close() error { return g.db.Close() }

func (g *graph) wrap(op string, err error) error { return store.Wrap(op, g.name, err) }

func (g *graph) CreateEntity(ctx context.Context, entityType string, attrs store.Attributes) (string, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return "", err
	}
	attrs, err := store.NormalizeAttributes(attrs)
	if err != nil {
		return "", err
	}
	raw, err := encodeAttributes(attrs)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := g.db.ExecContext(ctx,
		"INSERT INTO entities (id, entity_type, attributes) VALUES (?, ?, ?)",
		id, entityType, raw); err != nil {
		return "", g.wrap("create entity", err)
	}
	return id, nil
}

func (g *graph) GetEntity(ctx context.Context, entityType, id string) (*store.Entity, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return nil, err
	}
	row := g.db.QueryRowContext(ctx,
		"SELECT id, entity_type, attributes FROM entities WHERE id = ? AND entity_type = ?",
		id, entityType)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", store.ErrEntityNotFound, entityType, id)
	}
	if err != nil {
		return nil, g.wrap("get entity", err)
	}
	return &e, nil
}

func (g *graph) GetAllEntities(ctx context.Context, entityType string) (map[string]store.Attributes, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return nil, err
	}
	entities, err := g.queryEntities(ctx, "get all entities",
		"SELECT id, entity_type, attributes FROM entities WHERE entity_type = ? ORDER BY rowid", entityType)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Attributes, len(entities))
	for _, e := range entities {
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
	raw, err := encodeAttributes(attrs)
	if err != nil {
		return false, err
	}
	res, err := g.db.ExecContext(ctx,
		"UPDATE entities SET attributes = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND entity_type = ?",
		raw, id, entityType)
	if err != nil {
		return false, g.wrap("update entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, g.wrap("update entity", err)
	}
	return n > 0, nil
}

func (g *graph) DeleteEntity(ctx context.Context, entityType, id string) (bool, error) {
	if err := store.CheckLabel(entityType); err != nil {
		return false, err
	}
	res, err := g.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ? AND entity_type = ?", id, entityType)
	if err != nil {
		return false, g.wrap("delete entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, g.wrap("delete entity", err)
	}
	return n > 0, nil
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
	raw, err := encodeAttributes(attrs)
	if err != nil {
		return "", err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return "", g.wrap("create relationship", err)
	}
	defer tx.Rollback()

	var found int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT id) FROM entities WHERE id IN (?, ?)",
		rel.FromID, rel.ToID).Scan(&found); err != nil {
		return "", g.wrap("create relationship", err)
	}
	want := 2
	if rel.FromID == rel.ToID {
		want = 1
	}
	if found < want {
		return "", g.wrap("create relationship",
			fmt.Errorf("%w: %s -> %s", store.ErrEndpointNotFound, rel.FromID, rel.ToID))
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO relationships (id, source_id, target_id, relation_type, attributes) VALUES (?, ?, ?, ?, ?)",
		id, rel.FromID, rel.ToID, relType, raw); err != nil {
		return "", g.wrap("create relationship", err)
	}
	if err := tx.Commit(); err != nil {
		return "", g.wrap("create relationship", err)
	}
	return id, nil
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
	constraints, err := store.NormalizeConstraints(constraints)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if entityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, entityType)
	}
	for _, c := range constraints {
		where = append(where, "json_extract(attributes, ?) = ?")
		args = append(args, "$."+c.Field, c.Value)
	}
	q := "SELECT id, entity_type, attributes FROM entities WHERE " +
		strings.Join(where, " AND ") + " ORDER BY rowid"
	return g.queryEntities(ctx, "search entities", q, args...)
}

const relationshipSelect = `
SELECT r.id, r.source_id, r.target_id, r.relation_type, r.attributes, s.entity_type, t.entity_type
FROM relationships r
JOIN entities s ON s.id = r.source_id
JOIN entities t ON t.id = r.target_id`

func (g *graph) SearchRelationships(ctx context.Context, constraints []store.Constraint) ([]store.Relationship, error) {
	name, ok := store.NameConstraint(constraints)
	if !ok {
		return []store.Relationship{}, nil
	}
	name, ok = store.Scalar(name)
	if !ok {
		return nil, fmt.Errorf("%w: name is not a scalar", store.ErrInvalidAttributes)
	}

	var id string
	err := g.db.QueryRowContext(ctx,
		"SELECT id FROM entities WHERE json_extract(attributes, '$.name') = ? ORDER BY rowid LIMIT 1",
		name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return []store.Relationship{}, nil
	}
	if err != nil {
		return nil, g.wrap("search relationships", err)
	}

	return g.queryRelationships(ctx, "search relationships",
		relationshipSelect+" WHERE r.source_id = ? OR r.target_id = ? ORDER BY r.rowid", id, id)
}

func (g *graph) PropertyKeys(ctx context.Context) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		"SELECT DISTINCT j.key FROM entities, json_each(entities.attributes) AS j ORDER BY j.key")
	if err != nil {
		return nil, g.wrap("property keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, g.wrap("property keys", err)
		}
		keys = append(keys, k)
	}
	return keys, g.wrap("property keys", rows.Err())
}

func (g *graph) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	entities, err := g.queryEntities(ctx, "snapshot",
		"SELECT id, entity_type, attributes FROM entities ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	rels, err := g.queryRelationships(ctx, "snapshot", relationshipSelect+" ORDER BY r.rowid")
	if err != nil {
		return nil, err
	}

	snap := store.NewSnapshot()
	for _, e := range entities {
		snap.Add(e)
	}
	snap.Relationships = rels
	return snap, nil
}

func (g *graph) queryEntities(ctx context.Context, op, query string, args ...any) ([]store.Entity, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, g.wrap(op, err)
	}
	defer rows.Close()

	entities := []store.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, g.wrap(op, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, g.wrap(op, err)
	}
	return entities, nil
}

func (g *graph) queryRelationships(ctx context.Context, op, query string, args ...any) ([]store.Relationship, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, g.wrap(op, err)
	}
	defer rows.Close()

	rels := []store.Relationship{}
	for rows.Next() {
		var (
			r   store.Relationship
			raw string
		)
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Type, &raw, &r.FromType, &r.ToType); err != nil {
			return nil, g.wrap(op, err)
		}
		if r.Attributes, err = decodeAttributes(raw); err != nil {
			return nil, g.wrap(op, err)
		}
		r.Snippet = store.SnippetOf(r.Type, r.Attributes)
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, g.wrap(op, err)
	}
	return rels, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc scanner) (store.Entity, error) {
	var (
		e   store.Entity
		raw string
	)
	if err := sc.Scan(&e.ID, &e.Type, &raw); err != nil {
		return e, err
	}
	attrs, err := decodeAttributes(raw)
	if err != nil {
		return e, err
	}
	e.Attributes = attrs
	return e, nil
}
