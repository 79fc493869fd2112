package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mindgraph/store"
)

// UpsertGraphCacheEntry inserts or replaces a cached view for a user. The
// version column is bumped inside the statement so concurrent writers never
// produce the same version twice.
func (d *DB) UpsertGraphCacheEntry(ctx context.Context, entry *store.GraphCacheEntry) (*store.GraphCacheEntry, error) {
	now := time.Now().Unix()
	if entry.CreatedTs == 0 {
		entry.CreatedTs = now
	}
	entry.UpdatedTs = now

	stmt := `
		INSERT INTO graph_cache (user_id, kind, payload, version, created_ts, updated_ts, expires_ts)
		VALUES ($1, $2, $3, 1, $4, $5, $6)
		ON CONFLICT (user_id, kind)
		DO UPDATE SET
			payload = EXCLUDED.payload,
			version = graph_cache.version + 1,
			updated_ts = EXCLUDED.updated_ts,
			expires_ts = EXCLUDED.expires_ts
		RETURNING id, version, created_ts, updated_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		entry.UserID,
		entry.Kind,
		entry.Payload,
		entry.CreatedTs,
		entry.UpdatedTs,
		entry.ExpiresTs,
	).Scan(&entry.ID, &entry.Version, &entry.CreatedTs, &entry.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert graph cache entry")
	}

	return entry, nil
}

// GetGraphCacheEntry returns the cached view for a user, or nil when none
// exists.
func (d *DB) GetGraphCacheEntry(ctx context.Context, userID int32, kind store.CacheKind) (*store.GraphCacheEntry, error) {
	var entry store.GraphCacheEntry
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, payload, version, created_ts, updated_ts, expires_ts
		FROM graph_cache
		WHERE user_id = $1 AND kind = $2`,
		userID, kind,
	).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Kind,
		&entry.Payload,
		&entry.Version,
		&entry.CreatedTs,
		&entry.UpdatedTs,
		&entry.ExpiresTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get graph cache entry")
	}
	return &entry, nil
}

// DeleteGraphCacheEntry removes a cached view.
func (d *DB) DeleteGraphCacheEntry(ctx context.Context, userID int32, kind store.CacheKind) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM graph_cache WHERE user_id = $1 AND kind = $2`, userID, kind); err != nil {
		return errors.Wrap(err, "failed to delete graph cache entry")
	}
	return nil
}
