package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/response"
)

type reservationService interface {
	Create(ctx context.Context, req dto.CreateReservationRequest, identity models.Identity) (*models.Reservation, error)
	Join(ctx context.Context, reservationID string, identity models.Identity) error
	Cancel(ctx context.Context, reservationID string, requester models.Identity) error
	Get(ctx context.Context, reservationID string, viewer models.Identity) (*models.ReservationDetail, error)
	List(ctx context.Context, claims *models.JWTClaims, scope models.ReservationScope) ([]models.Reservation, error)
}

// ReservationHandler exposes the reservation lifecycle.
type ReservationHandler struct {
	service reservationService
}

// NewReservationHandler builds a new handler.
func NewReservationHandler(service reservationService) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// Create godoc
// @Summary Book a reservation
// @Description Authenticated callers book as themselves; otherwise guestName is required.
// @Tags Reservations
// @Accept json
// @Produce json
// @Param payload body dto.CreateReservationRequest true "Reservation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /reservations [post]
func (h *ReservationHandler) Create(c *gin.Context) {
	var req dto.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reservation payload"))
		return
	}
	identity := identityFromContext(c, req.GuestName, req.GuestEmail)
	reservation, err := h.service.Create(c.Request.Context(), req, identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reservation)
}

// List godoc
// @Summary List confirmed reservations
// @Tags Reservations
// @Produce json
// @Security BearerAuth
// @Param filter query string false "my (default) or all (admins only)"
// @Success 200 {object} response.Envelope
// @Router /reservations [get]
func (h *ReservationHandler) List(c *gin.Context) {
	var query dto.ListReservationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	reservations, err := h.service.List(c.Request.Context(), claimsFromContext(c), query.Filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reservations, nil)
}

// Get godoc
// @Summary Get a reservation with its block, host, creator and participants
// @Tags Reservations
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reservations/{id} [get]
func (h *ReservationHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"), identityFromContext(c, "", ""))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Join godoc
// @Summary Join a group reservation
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.JoinReservationRequest false "Guest identity"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reservations/{id}/join [post]
func (h *ReservationHandler) Join(c *gin.Context) {
	var req dto.JoinReservationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	identity := identityFromContext(c, req.GuestName, req.GuestEmail)
	if err := h.service.Join(c.Request.Context(), c.Param("id"), identity); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c)
}

// Cancel godoc
// @Summary Cancel a reservation
// @Description Allowed for the creator, any participant and the host. Guests identify by email.
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param guestEmail query string false "Guest email"
// @Param payload body dto.CancelReservationRequest false "Guest identity"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reservations/{id} [delete]
func (h *ReservationHandler) Cancel(c *gin.Context) {
	var req dto.CancelReservationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cancel payload"))
		return
	}
	guestEmail := req.GuestEmail
	if guestEmail == "" {
		guestEmail = c.Query("guestEmail")
	}
	identity := identityFromContext(c, "", guestEmail)
	if err := h.service.Cancel(c.Request.Context(), c.Param("id"), identity); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c)
}

// bindOptionalJSON binds a JSON body when one was sent.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil && err != io.EOF {
		return err
	}
	return nil
}
