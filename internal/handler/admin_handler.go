package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/response"
)

type reservationExporter interface {
	Reservations(ctx context.Context, query dto.ExportReservationsQuery) (*dto.ExportFile, error)
}

type roleUpdater interface {
	UpdateRole(ctx context.Context, req dto.UpdateRoleRequest) (*models.User, error)
}

// AdminHandler exposes admin-only endpoints.
type AdminHandler struct {
	exports reservationExporter
	users   roleUpdater
}

// NewAdminHandler builds a new handler.
func NewAdminHandler(exports reservationExporter, users roleUpdater) *AdminHandler {
	return &AdminHandler{exports: exports, users: users}
}

// ExportReservations godoc
// @Summary Export reservations
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Produce text/calendar
// @Security BearerAuth
// @Param format query string false "csv (default), pdf or ics"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date inclusive (YYYY-MM-DD)"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /admin/reservations/export [get]
func (h *AdminHandler) ExportReservations(c *gin.Context) {
	var query dto.ExportReservationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.exports.Reservations(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

// UpdateRole godoc
// @Summary Change a user's role
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.UpdateRoleRequest true "Role payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/role [patch]
func (h *AdminHandler) UpdateRole(c *gin.Context) {
	var req dto.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}
	user, err := h.users.UpdateRole(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user, nil)
}
