// Package server wires the store, the embedding pipeline, and the knowledge
// read services behind one echo HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/mindgraph/ai"
	"github.com/hrygo/mindgraph/ai/cluster"
	"github.com/hrygo/mindgraph/ai/filter"
	"github.com/hrygo/mindgraph/ai/graph"
	"github.com/hrygo/mindgraph/ai/knowledge"
	"github.com/hrygo/mindgraph/ai/metrics"
	"github.com/hrygo/mindgraph/ai/queue"
	"github.com/hrygo/mindgraph/internal/profile"
	apiv1 "github.com/hrygo/mindgraph/server/router/api/v1"
	"github.com/hrygo/mindgraph/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	queue      *queue.Service
	exporter   *metrics.PrometheusExporter
}

func NewServer(ctx context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	echoServer := echo.New()
	echoServer.Debug = true
	echoServer.HideBanner = true
	echoServer.HidePort = true

	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	s := &Server{
		Profile:    instanceProfile,
		Store:      storeInstance,
		echoServer: echoServer,
		exporter:   metrics.NewPrometheusExporter(metrics.DefaultConfig()),
	}

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	echoServer.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))

	apiService, err := s.buildAPIService(instanceProfile, storeInstance)
	if err != nil {
		return nil, err
	}
	apiService.Register(echoServer)

	return s, nil
}

// buildAPIService constructs the embedding pipeline and knowledge services.
// When the AI configuration is absent or invalid the server still comes up
// with ingestion and health routes; the AI-backed routes answer 503.
func (s *Server) buildAPIService(instanceProfile *profile.Profile, storeInstance *store.Store) (*apiv1.APIV1Service, error) {
	if !instanceProfile.IsAIEnabled() {
		slog.Info("AI features disabled", "enabled", false, "driver", instanceProfile.Driver)
		return apiv1.NewAPIV1Service(instanceProfile, storeInstance, nil, nil), nil
	}

	aiConfig := ai.NewConfigFromProfile(instanceProfile)
	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize embedding service")
	}

	var relationService ai.RelationService
	if aiConfig.Relation.Model != "" {
		relationService, err = ai.NewRelationService(&aiConfig.Relation)
		if err != nil {
			slog.Warn("failed to initialize relation service, graph labels and edges will use fallbacks",
				"provider", aiConfig.Relation.Provider,
				"error", err,
			)
			relationService = nil
		} else {
			slog.Info("relation service initialized",
				"provider", aiConfig.Relation.Provider,
				"model", aiConfig.Relation.Model,
			)
		}
	} else {
		slog.Warn("no relation model configured, graph labels and edges will use fallbacks")
	}

	contentFilter := filter.New(relationService)
	queueService := queue.NewService(
		storeInstance,
		embeddingService,
		contentFilter,
		s.exporter,
		queue.DefaultConfig(aiConfig.Embedding.Model),
	)
	s.queue = queueService

	engine := cluster.NewEngine(storeInstance, aiConfig.Embedding.Model)
	builder := graph.NewBuilder(relationService)
	knowledgeService := knowledge.NewService(storeInstance, engine, builder, embeddingService, s.exporter)

	return apiv1.NewAPIV1Service(instanceProfile, storeInstance, queueService, knowledgeService), nil
}

// Start begins serving and brings up the embedding queue worker. It returns
// once the listener is up; serving continues in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.queue != nil {
		s.queue.Start(ctx)
	}

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.queue != nil {
		s.queue.Stop()
	}

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}

	slog.Info("server shutdown")
}
