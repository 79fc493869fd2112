package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// graphMaxAge is how long clients may serve the graph response from their
// own cache before revalidating.
const graphMaxAge = "max-age=60"

// GetKnowledgeGraph returns the user's knowledge graph. The refresh query
// parameter forces a synchronous recompute; without it the current cache
// entry is returned even if stale.
func (s *APIV1Service) GetKnowledgeGraph(c echo.Context) error {
	if err := s.requireAI(); err != nil {
		return err
	}
	userID, err := userIDFromPath(c)
	if err != nil {
		return err
	}
	refresh := c.QueryParam("refresh") == "true"

	g, err := s.Knowledge.GetKnowledgeGraph(c.Request().Context(), userID, refresh)
	if err != nil {
		slog.Error("failed to get knowledge graph", "user_id", userID, "refresh", refresh, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "knowledge graph unavailable")
	}

	c.Response().Header().Set("Cache-Control", graphMaxAge)
	return c.JSON(http.StatusOK, g)
}

// GetClusters returns the user's topic clusters. Users with fewer embedded
// memories than the clustering floor get an empty topic list.
func (s *APIV1Service) GetClusters(c echo.Context) error {
	if err := s.requireAI(); err != nil {
		return err
	}
	userID, err := userIDFromPath(c)
	if err != nil {
		return err
	}

	result, err := s.Knowledge.GetClusters(c.Request().Context(), userID)
	if err != nil {
		slog.Error("failed to get clusters", "user_id", userID, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "clusters unavailable")
	}
	return c.JSON(http.StatusOK, result)
}
