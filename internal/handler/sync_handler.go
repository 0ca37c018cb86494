package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/response"
)

type availabilitySyncService interface {
	Sync(ctx context.Context, adminID string) (*dto.SyncResult, error)
}

// SyncHandler exposes the availability sync trigger.
type SyncHandler struct {
	service availabilitySyncService
}

// NewSyncHandler builds a new handler.
func NewSyncHandler(service availabilitySyncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// Sync godoc
// @Summary Sync the caller's availability from their calendar
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /sync [post]
func (h *SyncHandler) Sync(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Sync(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
