package store

import (
	"context"

	"github.com/pkg/errors"
)

// MemoryEmbedding represents the vector embedding of a memory.
// At most one embedding exists per (memory, model) pair.
type MemoryEmbedding struct {
	ID        int64
	MemoryID  int64
	Model     string
	Embedding []float32
	CreatedTs int64
	UpdatedTs int64
}

// FindMemoryEmbedding is the find condition for memory embeddings.
type FindMemoryEmbedding struct {
	MemoryID *int64
	UserID   *int32
	Model    *string
}

// FindMemoriesWithoutEmbedding is the find condition for memories that lack
// an embedding for the given model. The periodic self-healing scan feeds the
// embedding queue from this query.
type FindMemoriesWithoutEmbedding struct {
	Model string
	Limit int
}

// MemoryWithScore represents a vector search result with similarity score.
type MemoryWithScore struct {
	Memory *Memory
	Score  float32 // cosine similarity, 0-1, higher is more similar
}

// VectorSearchOptions represents the options for memory vector search.
type VectorSearchOptions struct {
	Vector       []float32
	QueryText    string // original query text, used for token-overlap scoring when stored vectors have a stale dimension
	Limit        int
	UserID       int32
	CreatedAfter int64 // optional: only search memories created after this timestamp
}

// Validate validates the VectorSearchOptions.
func (o *VectorSearchOptions) Validate() error {
	if o.UserID <= 0 {
		return errors.Errorf("invalid UserID: %d", o.UserID)
	}
	if len(o.Vector) == 0 {
		return errors.Errorf("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (s *Store) UpsertMemoryEmbedding(ctx context.Context, embedding *MemoryEmbedding) (*MemoryEmbedding, error) {
	return s.driver.UpsertMemoryEmbedding(ctx, embedding)
}

// GetMemoryEmbedding gets the embedding of a specific memory.
func (s *Store) GetMemoryEmbedding(ctx context.Context, memoryID int64, model string) (*MemoryEmbedding, error) {
	list, err := s.driver.ListMemoryEmbeddings(ctx, &FindMemoryEmbedding{
		MemoryID: &memoryID,
		Model:    &model,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListMemoryEmbeddings lists memory embeddings.
func (s *Store) ListMemoryEmbeddings(ctx context.Context, find *FindMemoryEmbedding) ([]*MemoryEmbedding, error) {
	return s.driver.ListMemoryEmbeddings(ctx, find)
}

// DeleteMemoryEmbedding deletes a memory embedding.
func (s *Store) DeleteMemoryEmbedding(ctx context.Context, memoryID int64) error {
	return s.driver.DeleteMemoryEmbedding(ctx, memoryID)
}

// FindMemoriesWithoutEmbedding finds memories that don't have embeddings for
// the specified model.
func (s *Store) FindMemoriesWithoutEmbedding(ctx context.Context, find *FindMemoriesWithoutEmbedding) ([]*Memory, error) {
	return s.driver.FindMemoriesWithoutEmbedding(ctx, find)
}

// CountMemoriesWithEmbedding counts a user's memories that carry an embedding
// for the given model. The cluster engine uses this for its minimum-data gate.
func (s *Store) CountMemoriesWithEmbedding(ctx context.Context, userID int32, model string) (int, error) {
	return s.driver.CountMemoriesWithEmbedding(ctx, userID, model)
}

// VectorSearch performs vector similarity search on memories.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.VectorSearch(ctx, opts)
}
