package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/response"
)

type slotService interface {
	List(ctx context.Context) ([]models.Slot, error)
}

// SlotHandler lists bookable slots.
type SlotHandler struct {
	service slotService
}

// NewSlotHandler builds a new handler.
func NewSlotHandler(service slotService) *SlotHandler {
	return &SlotHandler{service: service}
}

// List godoc
// @Summary List bookable slots
// @Description Upcoming availability split into fixed slots, minus the host's busy time, with overlapping reservations attached.
// @Tags Slots
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /slots [get]
func (h *SlotHandler) List(c *gin.Context) {
	slots, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}
