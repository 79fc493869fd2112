package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/mindgraph/store"
)

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (d *DB) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	if len(embedding.Embedding) != d.dim {
		return nil, fmt.Errorf("invalid vector dimension: got %d, want %d", len(embedding.Embedding), d.dim)
	}

	now := time.Now().Unix()
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = now
	}
	embedding.UpdatedTs = now

	stmt := `
		INSERT INTO memory_embedding (memory_id, embedding, model, created_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (memory_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	vector := pgvector.NewVector(embedding.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		embedding.MemoryID,
		vector,
		embedding.Model,
		embedding.CreatedTs,
		embedding.UpdatedTs,
	).Scan(&embedding.ID, &embedding.CreatedTs, &embedding.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert memory embedding")
	}

	return embedding, nil
}

// ListMemoryEmbeddings lists memory embeddings.
func (d *DB) ListMemoryEmbeddings(ctx context.Context, find *store.FindMemoryEmbedding) ([]*store.MemoryEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.MemoryID != nil {
		where, args = append(where, "e.memory_id = "+placeholder(len(args)+1)), append(args, *find.MemoryID)
	}
	if find.Model != nil {
		where, args = append(where, "e.model = "+placeholder(len(args)+1)), append(args, *find.Model)
	}
	if find.UserID != nil {
		where, args = append(where, "m.user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT e.id, e.memory_id, e.embedding, e.model, e.created_ts, e.updated_ts
		FROM memory_embedding e
		INNER JOIN memory m ON m.id = e.memory_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.created_ts DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory embeddings")
	}
	defer rows.Close()

	list := []*store.MemoryEmbedding{}
	for rows.Next() {
		var embedding store.MemoryEmbedding
		var vector pgvector.Vector
		if err := rows.Scan(
			&embedding.ID,
			&embedding.MemoryID,
			&vector,
			&embedding.Model,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory embedding")
		}

		embedding.Embedding = vector.Slice()
		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteMemoryEmbedding deletes a memory embedding.
func (d *DB) DeleteMemoryEmbedding(ctx context.Context, memoryID int64) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM memory_embedding WHERE memory_id = $1`, memoryID)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory embedding")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindMemoriesWithoutEmbedding finds memories that don't have embeddings for
// the specified model.
func (d *DB) FindMemoriesWithoutEmbedding(ctx context.Context, find *store.FindMemoriesWithoutEmbedding) ([]*store.Memory, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT m.id, m.uid, m.user_id, m.content, m.type, m.summary, m.keywords, m.created_ts
		FROM memory m
		LEFT JOIN memory_embedding e ON m.id = e.memory_id AND e.model = $1
		WHERE e.id IS NULL
			AND LENGTH(m.content) > 0
		ORDER BY m.created_ts DESC
		LIMIT $2`

	rows, err := d.db.QueryContext(ctx, query, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find memories without embedding")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) CountMemoriesWithEmbedding(ctx context.Context, userID int32, model string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM memory m
		INNER JOIN memory_embedding e ON m.id = e.memory_id AND e.model = $1
		WHERE m.user_id = $2`,
		model, userID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count embedded memories")
	}
	return count, nil
}

// VectorSearch performs vector similarity search using pgvector. The <=>
// operator computes cosine distance, so score = 1 - distance and ordering by
// distance ASC returns the most similar memories first.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{"m.user_id = " + placeholder(1)}, []any{opts.UserID}
	if opts.CreatedAfter > 0 {
		where, args = append(where, "m.created_ts >= "+placeholder(len(args)+1)), append(args, opts.CreatedAfter)
	}

	vector := pgvector.NewVector(opts.Vector)
	scoreArg := placeholder(len(args) + 1)
	orderArg := placeholder(len(args) + 2)
	limitArg := placeholder(len(args) + 3)
	args = append(args, vector, vector, limit)

	query := `
		SELECT
			m.id, m.uid, m.user_id, m.content, m.type, m.summary, m.keywords, m.created_ts,
			1 - (e.embedding <=> ` + scoreArg + `) AS score
		FROM memory m
		INNER JOIN memory_embedding e ON m.id = e.memory_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.embedding <=> ` + orderArg + `
		LIMIT ` + limitArg

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.MemoryWithScore{}
	for rows.Next() {
		var result store.MemoryWithScore
		var memory store.Memory
		var keywords []byte

		if err := rows.Scan(
			&memory.ID,
			&memory.UID,
			&memory.UserID,
			&memory.Content,
			&memory.Type,
			&memory.Summary,
			&keywords,
			&memory.CreatedTs,
			&result.Score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		if err := decodeKeywords(keywords, &memory); err != nil {
			return nil, err
		}

		result.Memory = &memory
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
