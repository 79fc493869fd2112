package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/mindgraph/ai/aierr"
)

// GetQueueStats reports embedding queue depth, the failed set, and breaker
// state.
func (s *APIV1Service) GetQueueStats(c echo.Context) error {
	if err := s.requireAI(); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.Queue.Stats())
}

type ReembedMemoryResponse struct {
	MemoryID int64 `json:"memoryId"`
	Enqueued bool  `json:"enqueued"`
}

// ReembedMemory clears a memory from the failed set and puts it back on the
// embedding queue. This is the only path out of the failed set.
func (s *APIV1Service) ReembedMemory(c echo.Context) error {
	if err := s.requireAI(); err != nil {
		return err
	}
	var memoryID int64
	if err := echo.PathParamsBinder(c).Int64("memoryID", &memoryID).BindError(); err != nil || memoryID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid memory id")
	}

	if err := s.Queue.RetryFailed(c.Request().Context(), memoryID); err != nil {
		if aierr.IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		slog.Error("failed to re-enqueue memory", "memory_id", memoryID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to re-enqueue memory")
	}

	return c.JSON(http.StatusAccepted, &ReembedMemoryResponse{
		MemoryID: memoryID,
		Enqueued: true,
	})
}
