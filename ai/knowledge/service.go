// Package knowledge serves the read side of the memory pipeline: similarity
// search, topic clusters, and the versioned knowledge graph, backed by a
// per-user cache with a partial/full refresh policy.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hrygo/mindgraph/ai"
	"github.com/hrygo/mindgraph/ai/aierr"
	"github.com/hrygo/mindgraph/ai/cluster"
	"github.com/hrygo/mindgraph/ai/graph"
	"github.com/hrygo/mindgraph/ai/metrics"
	"github.com/hrygo/mindgraph/store"
)

const (
	// RefreshThreshold is the new-memory count at which a refresh recomputes
	// clusters from scratch instead of reusing the cached membership.
	RefreshThreshold = 5

	// cacheTTL is advisory: expired entries are still served (stale but
	// present) until a refresh succeeds.
	cacheTTL = time.Hour
)

// Store is the persistence surface the service needs.
type Store interface {
	GetGraphCacheEntry(ctx context.Context, userID int32, kind store.CacheKind) (*store.GraphCacheEntry, error)
	UpsertGraphCacheEntry(ctx context.Context, upsert *store.GraphCacheEntry) (*store.GraphCacheEntry, error)
	CountMemoriesCreatedAfter(ctx context.Context, userID int32, createdTs int64) (int, error)
	VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryWithScore, error)
}

// Clusterer produces topic clusters for a user.
type Clusterer interface {
	Cluster(ctx context.Context, userID int32) (*cluster.Result, error)
}

// GraphBuilder names topics and derives relation edges.
type GraphBuilder interface {
	Build(ctx context.Context, topics []*cluster.Topic) *graph.Graph
}

// Service is the knowledge read API. Refreshes for the same user are
// serialized through singleflight; different users may refresh concurrently
// because every write is scoped to one user's rows.
type Service struct {
	store    Store
	engine   Clusterer
	builder  GraphBuilder
	embedder ai.EmbeddingService
	exporter *metrics.PrometheusExporter

	group singleflight.Group
}

// NewService creates the knowledge service. The exporter may be nil.
func NewService(st Store, engine Clusterer, builder GraphBuilder, embedder ai.EmbeddingService, exporter *metrics.PrometheusExporter) *Service {
	return &Service{
		store:    st,
		engine:   engine,
		builder:  builder,
		embedder: embedder,
		exporter: exporter,
	}
}

// GetKnowledgeGraph returns the user's knowledge graph. Without refresh the
// cached entry is returned even if stale; refresh recomputes synchronously
// (partial or full per the refresh policy). A cache miss always computes.
func (s *Service) GetKnowledgeGraph(ctx context.Context, userID int32, refresh bool) (*graph.Graph, error) {
	entry, err := s.loadEntry(ctx, userID, store.CacheKindKnowledgeGraph)
	switch {
	case err == nil:
		if !refresh {
			s.recordCache(string(store.CacheKindKnowledgeGraph), true)
			return decodeGraph(entry)
		}
	case aierr.IsCacheMiss(err):
		s.recordCache(string(store.CacheKindKnowledgeGraph), false)
		slog.Debug("computing knowledge graph synchronously", "user_id", userID, "cause", err)
	default:
		return nil, err
	}

	refreshed, err := s.refreshGraph(ctx, userID, entry)
	if err != nil {
		// Serve-stale: a failed recompute must not hide the last good
		// result.
		if entry != nil {
			slog.Warn("graph refresh failed, serving stale entry",
				"user_id", userID,
				"version", entry.Version,
				"error", err,
			)
			return decodeGraph(entry)
		}
		return nil, err
	}
	return refreshed, nil
}

// GetClusters returns the user's topic clusters, from cache when present.
// Fewer than the clustering floor of embedded memories yields an empty
// result.
func (s *Service) GetClusters(ctx context.Context, userID int32) (*cluster.Result, error) {
	entry, err := s.loadEntry(ctx, userID, store.CacheKindClusterResult)
	switch {
	case err == nil:
		s.recordCache(string(store.CacheKindClusterResult), true)
		var result cluster.Result
		if err := json.Unmarshal(entry.Payload, &result); err == nil {
			return &result, nil
		}
		slog.Warn("corrupt cluster cache payload, recomputing", "user_id", userID)
	case aierr.IsCacheMiss(err):
		s.recordCache(string(store.CacheKindClusterResult), false)
	default:
		return nil, err
	}

	result, err, _ := s.group.Do(clusterKey(userID), func() (any, error) {
		computed, err := s.engine.Cluster(ctx, userID)
		if err != nil {
			return nil, err
		}
		if _, err := s.writeCache(ctx, userID, store.CacheKindClusterResult, computed); err != nil {
			slog.Warn("failed to cache cluster result", "user_id", userID, "error", err)
		}
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*cluster.Result), nil
}

// FindSimilarMemories embeds the query text and returns the nearest
// memories. An empty store yields an empty list, not an error.
func (s *Service) FindSimilarMemories(ctx context.Context, userID int32, query string, limit int) ([]*store.MemoryWithScore, error) {
	if query == "" {
		return nil, aierr.NewValidation("empty query")
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.store.VectorSearch(ctx, &store.VectorSearchOptions{
		Vector:    vector,
		QueryText: query,
		Limit:     limit,
		UserID:    userID,
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*store.MemoryWithScore{}
	}
	return results, nil
}

// refreshGraph recomputes the graph for one user. Concurrent refreshes for
// the same user collapse into one computation; the cache upsert bumps the
// version atomically so racing writers can never produce a duplicate.
func (s *Service) refreshGraph(ctx context.Context, userID int32, entry *store.GraphCacheEntry) (*graph.Graph, error) {
	result, err, _ := s.group.Do(graphKey(userID), func() (any, error) {
		full := entry == nil
		if !full {
			newCount, err := s.store.CountMemoriesCreatedAfter(ctx, userID, entry.UpdatedTs)
			if err != nil {
				return nil, err
			}
			full = newCount >= RefreshThreshold
		}

		start := time.Now()
		built, err := s.recompute(ctx, userID, full)
		s.recordRefresh(full, time.Since(start), err == nil)
		if err != nil {
			return nil, err
		}
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*graph.Graph), nil
}

// recompute runs either path of the refresh policy. The partial path reuses
// cached cluster membership and only re-resolves graph edges; the full path
// reclusters from scratch.
func (s *Service) recompute(ctx context.Context, userID int32, full bool) (*graph.Graph, error) {
	var topics []*cluster.Topic

	if !full {
		cached, err := s.loadEntry(ctx, userID, store.CacheKindClusterResult)
		if err != nil && !aierr.IsCacheMiss(err) {
			return nil, err
		}
		if cached != nil {
			var result cluster.Result
			if err := json.Unmarshal(cached.Payload, &result); err == nil {
				topics = result.Topics
			}
		}
		if topics == nil {
			// No reusable clusters; escalate to a full recompute.
			full = true
		}
	}

	if full {
		result, err := s.engine.Cluster(ctx, userID)
		if err != nil {
			return nil, err
		}
		topics = result.Topics
		if _, err := s.writeCache(ctx, userID, store.CacheKindClusterResult, result); err != nil {
			slog.Warn("failed to cache cluster result", "user_id", userID, "error", err)
		}
	}

	built := s.builder.Build(ctx, topics)
	if len(topics) == 0 {
		// Empty result by definition, not failure: too few embedded
		// memories to cluster. The reason travels in the payload so
		// clients can distinguish "nothing yet" from "nothing found".
		built.Reason = aierr.ErrNotEnoughData.Error()
	}

	written, err := s.writeCache(ctx, userID, store.CacheKindKnowledgeGraph, built)
	if err != nil {
		return nil, err
	}
	built.Version = written.Version

	slog.Info("knowledge graph refreshed",
		"user_id", userID,
		"full", full,
		"nodes", len(built.Nodes),
		"links", len(built.Links),
		"version", built.Version,
	)
	return built, nil
}

// loadEntry fetches one cache entry, turning absence into a CacheMissError
// so callers can pick their recompute strategy with a single type check.
func (s *Service) loadEntry(ctx context.Context, userID int32, kind store.CacheKind) (*store.GraphCacheEntry, error) {
	entry, err := s.store.GetGraphCacheEntry(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &aierr.CacheMissError{UserID: userID, Kind: string(kind)}
	}
	return entry, nil
}

func (s *Service) writeCache(ctx context.Context, userID int32, kind store.CacheKind, payload any) (*store.GraphCacheEntry, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return s.store.UpsertGraphCacheEntry(ctx, &store.GraphCacheEntry{
		UserID:    userID,
		Kind:      kind,
		Payload:   encoded,
		ExpiresTs: time.Now().Add(cacheTTL).Unix(),
	})
}

func (s *Service) recordCache(kind string, hit bool) {
	if s.exporter == nil {
		return
	}
	if hit {
		s.exporter.RecordCacheHit(kind)
	} else {
		s.exporter.RecordCacheMiss(kind)
	}
}

func (s *Service) recordRefresh(full bool, latency time.Duration, success bool) {
	if s.exporter == nil {
		return
	}
	mode := "partial"
	if full {
		mode = "full"
	}
	s.exporter.RecordRefresh(mode, latency, success)
}

func decodeGraph(entry *store.GraphCacheEntry) (*graph.Graph, error) {
	var g graph.Graph
	if err := json.Unmarshal(entry.Payload, &g); err != nil {
		return nil, fmt.Errorf("corrupt graph cache payload: %w", err)
	}
	g.Version = entry.Version
	return &g, nil
}

func graphKey(userID int32) string {
	return fmt.Sprintf("graph:%d", userID)
}

func clusterKey(userID int32) string {
	return fmt.Sprintf("clusters:%d", userID)
}
