// Package v1 is the REST surface: memory ingestion, similarity search, the
// knowledge graph and cluster views, and queue operations.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mindgraph/ai/cluster"
	"github.com/hrygo/mindgraph/ai/graph"
	"github.com/hrygo/mindgraph/ai/queue"
	"github.com/hrygo/mindgraph/internal/profile"
	"github.com/hrygo/mindgraph/store"
)

// KnowledgeService is the read side consumed by the graph, cluster, and
// search routes.
type KnowledgeService interface {
	GetKnowledgeGraph(ctx context.Context, userID int32, refresh bool) (*graph.Graph, error)
	GetClusters(ctx context.Context, userID int32) (*cluster.Result, error)
	FindSimilarMemories(ctx context.Context, userID int32, query string, limit int) ([]*store.MemoryWithScore, error)
}

// EmbeddingQueue is the write side behind memory ingestion and the admin
// routes.
type EmbeddingQueue interface {
	Enqueue(ctx context.Context, memoryID int64) error
	RetryFailed(ctx context.Context, memoryID int64) error
	Stats() queue.Stats
}

// MemoryStore persists memories created through the API.
type MemoryStore interface {
	CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error)
	GetMemory(ctx context.Context, id int64) (*store.Memory, error)
}

type APIV1Service struct {
	Profile   *profile.Profile
	Store     MemoryStore
	Queue     EmbeddingQueue
	Knowledge KnowledgeService
}

func NewAPIV1Service(profile *profile.Profile, st MemoryStore, q EmbeddingQueue, knowledge KnowledgeService) *APIV1Service {
	return &APIV1Service{
		Profile:   profile,
		Store:     st,
		Queue:     q,
		Knowledge: knowledge,
	}
}

// Register mounts the v1 routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")

	g.POST("/memories", s.CreateMemory)
	g.GET("/users/:id/graph", s.GetKnowledgeGraph)
	g.GET("/users/:id/clusters", s.GetClusters)
	g.GET("/users/:id/memories/similar", s.FindSimilarMemories)
	g.GET("/queue/stats", s.GetQueueStats)
	g.POST("/admin/reembed/:memoryID", s.ReembedMemory)
}

// requireAI rejects AI-backed routes when the server came up without an
// embedding configuration.
func (s *APIV1Service) requireAI() error {
	if s.Queue == nil || s.Knowledge == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ai features are disabled")
	}
	return nil
}

func userIDFromPath(c echo.Context) (int32, error) {
	var userID int32
	if err := echo.PathParamsBinder(c).Int32("id", &userID).BindError(); err != nil || userID <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	return userID, nil
}
