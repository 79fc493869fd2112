package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL UNIQUE,
		user_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'chat',
		summary TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '[]',
		created_ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_user_created ON memory (user_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS memory_embedding (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_id INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		model TEXT NOT NULL,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL,
		UNIQUE (memory_id, model)
	)`,
	`CREATE TABLE IF NOT EXISTS graph_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_ts INTEGER NOT NULL,
		updated_ts INTEGER NOT NULL,
		expires_ts INTEGER NOT NULL DEFAULT 0,
		UNIQUE (user_id, kind)
	)`,
}

// Migrate creates the schema if missing. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply sqlite schema")
		}
	}
	return nil
}
