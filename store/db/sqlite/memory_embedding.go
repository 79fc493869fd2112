package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/mindgraph/store"
)

// float32ArrayToBLOB converts a []float32 to a little-endian BLOB.
// It validates that the vector has the configured dimension.
func (d *DB) float32ArrayToBLOB(vec []float32) ([]byte, error) {
	if len(vec) != d.dim {
		return nil, fmt.Errorf("invalid vector dimension: got %d, want %d", len(vec), d.dim)
	}

	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf, nil
}

// blobToFloat32Array converts a BLOB back to a float32 array. The stored
// length wins here; dimension enforcement happens at write time.
func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid BLOB length: %d", len(blob))
	}

	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (d *DB) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	vectorBLOB, err := d.float32ArrayToBLOB(embedding.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert embedding vector to BLOB")
	}

	now := time.Now().Unix()
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = now
	}
	embedding.UpdatedTs = now

	stmt := `INSERT INTO memory_embedding (memory_id, embedding, model, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (memory_id, model) DO UPDATE SET
			embedding = excluded.embedding,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts`

	err = d.db.QueryRowContext(ctx, stmt,
		embedding.MemoryID,
		vectorBLOB,
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
		where, args = append(where, "e.memory_id = ?"), append(args, *find.MemoryID)
	}
	if find.Model != nil {
		where, args = append(where, "e.model = ?"), append(args, *find.Model)
	}
	if find.UserID != nil {
		where, args = append(where, "m.user_id = ?"), append(args, *find.UserID)
	}

	query := `SELECT e.id, e.memory_id, e.embedding, e.model, e.created_ts, e.updated_ts
		FROM memory_embedding e
		INNER JOIN memory m ON m.id = e.memory_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.created_ts DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory embeddings")
	}
	defer rows.Close()

	list := []*store.MemoryEmbedding{}
	for rows.Next() {
		var embedding store.MemoryEmbedding
		var vectorBLOB []byte

		if err := rows.Scan(
			&embedding.ID,
			&embedding.MemoryID,
			&vectorBLOB,
			&embedding.Model,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory embedding")
		}

		embedding.Embedding, err = blobToFloat32Array(vectorBLOB)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}

		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// DeleteMemoryEmbedding deletes a memory embedding.
func (d *DB) DeleteMemoryEmbedding(ctx context.Context, memoryID int64) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM memory_embedding WHERE memory_id = ?`, memoryID)
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
		LEFT JOIN memory_embedding e ON m.id = e.memory_id AND e.model = ?
		WHERE e.id IS NULL
			AND LENGTH(m.content) > 0
		ORDER BY m.created_ts DESC
		LIMIT ?`

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
		INNER JOIN memory_embedding e ON m.id = e.memory_id AND e.model = ?
		WHERE m.user_id = ?`,
		model, userID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count embedded memories")
	}
	return count, nil
}

// VectorSearch performs vector similarity search on memories using Go-based
// cosine similarity (application layer).
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{"m.user_id = ?"}, []any{opts.UserID}
	if opts.CreatedAfter > 0 {
		where, args = append(where, "m.created_ts >= ?"), append(args, opts.CreatedAfter)
	}

	query := `
		SELECT m.id, m.uid, m.user_id, m.content, m.type, m.summary, m.keywords, m.created_ts,
			e.embedding
		FROM memory m
		INNER JOIN memory_embedding e ON m.id = e.memory_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY m.created_ts DESC
		LIMIT ?`

	// Bound the candidate set for memory-efficient similarity computation.
	candidateLimit := limit * 5
	if candidateLimit > 500 {
		candidateLimit = 500
	}
	args = append(args, candidateLimit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	type candidate struct {
		memory *store.Memory
		score  float32
	}
	results := []candidate{}

	for rows.Next() {
		var memory store.Memory
		var keywords string
		var vectorBLOB []byte

		if err := rows.Scan(
			&memory.ID,
			&memory.UID,
			&memory.UserID,
			&memory.Content,
			&memory.Type,
			&memory.Summary,
			&keywords,
			&memory.CreatedTs,
			&vectorBLOB,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		if err := decodeKeywords(keywords, &memory); err != nil {
			return nil, err
		}

		stored, err := blobToFloat32Array(vectorBLOB)
		if err != nil {
			slog.Warn("failed to convert embedding BLOB to array", "memory_id", memory.ID, "error", err)
			continue
		}

		var score float32
		if len(stored) != len(opts.Vector) {
			// Dimension drift (model change). Fall back to token overlap so
			// the memory stays reachable, and record the degradation.
			slog.Warn("embedding dimension mismatch, using token overlap",
				"memory_id", memory.ID,
				"stored_dim", len(stored),
				"query_dim", len(opts.Vector),
			)
			score = jaccardSimilarity(opts.QueryText, memory.Content)
		} else {
			score = cosineSimilarity(opts.Vector, stored)
		}

		results = append(results, candidate{memory: &memory, score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	final := []*store.MemoryWithScore{}
	for i := 0; i < len(results) && i < limit; i++ {
		final = append(final, &store.MemoryWithScore{
			Memory: results[i].memory,
			Score:  results[i].score,
		})
	}

	return final, nil
}

func decodeKeywords(raw string, memory *store.Memory) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &memory.Keywords); err != nil {
		return errors.Wrap(err, "failed to decode keywords")
	}
	return nil
}

// cosineSimilarity calculates the cosine similarity between two vectors of
// equal length.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// jaccardSimilarity scores word overlap between two texts. Degraded path
// only, used when stored vectors do not match the query dimension.
func jaccardSimilarity(a, b string) float32 {
	wordsA := tokenSet(a)
	wordsB := tokenSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	if union == 0 {
		return 0
	}
	return float32(intersection) / float32(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}
