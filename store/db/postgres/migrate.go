package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Migrate creates the schema if missing. The vector column dimension follows
// the configured embedding model, so switching models requires a re-embed and
// a fresh embedding table.
func (d *DB) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memory (
			id BIGSERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			user_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'chat',
			summary TEXT NOT NULL DEFAULT '',
			keywords JSONB NOT NULL DEFAULT '[]',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_user_created ON memory (user_id, created_ts)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_embedding (
			id BIGSERIAL PRIMARY KEY,
			memory_id BIGINT NOT NULL REFERENCES memory (id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			UNIQUE (memory_id, model)
		)`, d.dim),
		`CREATE TABLE IF NOT EXISTS graph_cache (
			id BIGSERIAL PRIMARY KEY,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload BYTEA NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			expires_ts BIGINT NOT NULL DEFAULT 0,
			UNIQUE (user_id, kind)
		)`,
	}

	for _, stmt := range schema {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply postgres schema")
		}
	}
	return nil
}
