package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mindgraph/ai/aierr"
	"github.com/hrygo/mindgraph/store"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

var memoryTypes = map[string]bool{
	"chat":  true,
	"query": true,
	"note":  true,
}

type CreateMemoryRequest struct {
	UserID  int32  `json:"userId"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type CreateMemoryResponse struct {
	ID        int64  `json:"id"`
	UID       string `json:"uid"`
	CreatedTs int64  `json:"createdTs"`
}

// CreateMemory stores a new memory and enqueues it for embedding. Creation
// succeeds even when the queue is degraded; the periodic scan picks up
// anything that could not be enqueued.
func (s *APIV1Service) CreateMemory(c echo.Context) error {
	req := new(CreateMemoryRequest)
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.UserID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	memoryType := req.Type
	if memoryType == "" {
		memoryType = "note"
	}
	if !memoryTypes[memoryType] {
		return echo.NewHTTPError(http.StatusBadRequest, "type must be one of chat, query, note")
	}

	ctx := c.Request().Context()
	memory, err := s.Store.CreateMemory(ctx, &store.Memory{
		UserID:  req.UserID,
		Content: req.Content,
		Type:    memoryType,
	})
	if err != nil {
		slog.Error("failed to create memory", "user_id", req.UserID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create memory")
	}

	if s.Queue != nil {
		if err := s.Queue.Enqueue(ctx, memory.ID); err != nil {
			slog.Warn("failed to enqueue memory for embedding", "memory_id", memory.ID, "error", err)
		}
	}

	return c.JSON(http.StatusCreated, &CreateMemoryResponse{
		ID:        memory.ID,
		UID:       memory.UID,
		CreatedTs: memory.CreatedTs,
	})
}

type SimilarMemory struct {
	ID        int64    `json:"id"`
	Content   string   `json:"content"`
	Type      string   `json:"type"`
	Keywords  []string `json:"keywords,omitempty"`
	Score     float32  `json:"score"`
	CreatedTs int64    `json:"createdTs"`
}

type FindSimilarMemoriesResponse struct {
	Memories []*SimilarMemory `json:"memories"`
}

// FindSimilarMemories embeds the query and returns the nearest memories,
// best match first.
func (s *APIV1Service) FindSimilarMemories(c echo.Context) error {
	if err := s.requireAI(); err != nil {
		return err
	}
	userID, err := userIDFromPath(c)
	if err != nil {
		return err
	}
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}

	limit := defaultSearchLimit
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, err := s.Knowledge.FindSimilarMemories(c.Request().Context(), userID, query, limit)
	if err != nil {
		if aierr.IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		slog.Error("similarity search failed", "user_id", userID, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "similarity search unavailable")
	}

	memories := make([]*SimilarMemory, 0, len(results))
	for _, result := range results {
		memories = append(memories, &SimilarMemory{
			ID:        result.Memory.ID,
			Content:   result.Memory.Content,
			Type:      result.Memory.Type,
			Keywords:  result.Memory.Keywords,
			Score:     result.Score,
			CreatedTs: result.Memory.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, &FindSimilarMemoriesResponse{Memories: memories})
}
