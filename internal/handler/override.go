package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"repay/internal/middleware"
	"repay/internal/service"
)

// OverrideHandler handles manual settlement requests from customer service.
type OverrideHandler struct {
	overrides *service.OverrideService
	log       *zap.Logger
}

// NewOverrideHandler creates a new OverrideHandler.
func NewOverrideHandler(overrides *service.OverrideService, log *zap.Logger) *OverrideHandler {
	return &OverrideHandler{overrides: overrides, log: log}
}

// OverrideRequest is the HTTP request body for a manual settlement.
type OverrideRequest struct {
	Phone string `json:"phone"`
}

// Create handles POST /v1/overrides
func (h *OverrideHandler) Create(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Phone == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "phone is required"})
		return
	}

	result, err := h.overrides.MarkPaidByPhone(c.Request.Context(), req.Phone)
	if err != nil {
		respondError(c, err)
		return
	}

	h.log.Info("manual override applied",
		zap.String("operator", c.GetString(middleware.ContextUserID)),
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("user_id", result.UserID),
		zap.Int("rides", len(result.Rides)),
		zap.Int("skipped", len(result.Skipped)),
	)
	respondJSON(c, http.StatusOK, result)
}
