package store

import "context"

// CacheKind identifies the payload stored in a graph cache entry.
type CacheKind string

const (
	// CacheKindClusterResult caches the output of the cluster engine.
	CacheKindClusterResult CacheKind = "cluster-result"
	// CacheKindKnowledgeGraph caches the output of the graph builder.
	CacheKindKnowledgeGraph CacheKind = "knowledge-graph"
)

// GraphCacheEntry is the versioned cache envelope for a user's computed
// cluster result or knowledge graph. Version increases strictly on every
// successful upsert; the payload is replaced atomically, never mutated.
type GraphCacheEntry struct {
	ID        int64
	UserID    int32
	Kind      CacheKind
	Payload   []byte // JSON-encoded result
	Version   int64
	CreatedTs int64
	UpdatedTs int64
	ExpiresTs int64
}

// UpsertGraphCacheEntry atomically replaces the cache entry for
// (user, kind), bumping the version by one. The returned entry carries the
// new version.
func (s *Store) UpsertGraphCacheEntry(ctx context.Context, upsert *GraphCacheEntry) (*GraphCacheEntry, error) {
	return s.driver.UpsertGraphCacheEntry(ctx, upsert)
}

// GetGraphCacheEntry returns the cache entry for (user, kind), or nil when
// none exists.
func (s *Store) GetGraphCacheEntry(ctx context.Context, userID int32, kind CacheKind) (*GraphCacheEntry, error) {
	return s.driver.GetGraphCacheEntry(ctx, userID, kind)
}

// DeleteGraphCacheEntry removes the cache entry for (user, kind).
func (s *Store) DeleteGraphCacheEntry(ctx context.Context, userID int32, kind CacheKind) error {
	return s.driver.DeleteGraphCacheEntry(ctx, userID, kind)
}
