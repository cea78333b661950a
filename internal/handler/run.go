package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"repay/internal/domain"
	"repay/internal/service"
)

// RunHandler exposes the persisted batch state.
type RunHandler struct {
	state service.RunState
	loc   *time.Location
	now   func() time.Time
}

// NewRunHandler creates a new RunHandler. Days are counted in loc.
func NewRunHandler(state service.RunState, loc *time.Location) *RunHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &RunHandler{state: state, loc: loc, now: time.Now}
}

// RunStateResponse is the HTTP response for the batch state.
type RunStateResponse struct {
	Cursor         domain.Cursor `json:"cursor"`
	Day            string        `json:"day"`
	ProcessedToday int           `json:"processed_today"`
}

// GetState handles GET /v1/runs/state
func (h *RunHandler) GetState(c *gin.Context) {
	ctx := c.Request.Context()

	cursor, err := h.state.LoadCursor(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	day := service.Day(h.now(), h.loc)
	processed, err := h.state.ProcessedOn(ctx, day)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, RunStateResponse{
		Cursor:         cursor,
		Day:            day,
		ProcessedToday: processed,
	})
}
