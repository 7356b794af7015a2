package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migration upgrades a database file by one schema version. Entries are
// append-only; version 1 is schemaSQL itself.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{version: 1, name: "base schema"},
	{
		version: 2,
		name:    "index entity names",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(json_extract(attributes, '$.name'))`,
		},
	},
	{
		version: 3,
		name:    "index relationship types",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relation_type)`,
		},
	},
}

const versionTableSQL = `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	description TEXT,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// migrate brings db up to the latest version, one transaction per step.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, versionTableSQL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Debug("sqlite: migrated", "version", m.version, "name", m.name)
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// OR IGNORE: two handles opening a fresh file may race to record the same step.
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version, description) VALUES (?, ?)",
		m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
