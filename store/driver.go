package store

import "context"

// Driver is an interface for database access.
type Driver interface {
	Migrate(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Close() error

	// Memory model.
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	UpdateMemory(ctx context.Context, update *UpdateMemory) (*Memory, error)
	DeleteMemory(ctx context.Context, delete *DeleteMemory) error
	CountMemoriesCreatedAfter(ctx context.Context, userID int32, createdTs int64) (int, error)

	// Memory embedding model.
	UpsertMemoryEmbedding(ctx context.Context, embedding *MemoryEmbedding) (*MemoryEmbedding, error)
	ListMemoryEmbeddings(ctx context.Context, find *FindMemoryEmbedding) ([]*MemoryEmbedding, error)
	DeleteMemoryEmbedding(ctx context.Context, memoryID int64) error
	FindMemoriesWithoutEmbedding(ctx context.Context, find *FindMemoriesWithoutEmbedding) ([]*Memory, error)
	CountMemoriesWithEmbedding(ctx context.Context, userID int32, model string) (int, error)
	VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*MemoryWithScore, error)

	// Versioned result cache.
	UpsertGraphCacheEntry(ctx context.Context, upsert *GraphCacheEntry) (*GraphCacheEntry, error)
	GetGraphCacheEntry(ctx context.Context, userID int32, kind CacheKind) (*GraphCacheEntry, error)
	DeleteGraphCacheEntry(ctx context.Context, userID int32, kind CacheKind) error
}
