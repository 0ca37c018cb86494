package dto

import (
	"time"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
)

// CreateReservationRequest is the POST /reservations payload. Guest fields are
// ignored when the caller is authenticated.
type CreateReservationRequest struct {
	BlockID    string                 `json:"blockId" validate:"required"`
	StartTime  time.Time              `json:"startTime" validate:"required"`
	EndTime    time.Time              `json:"endTime" validate:"required"`
	Type       models.ReservationType `json:"type" validate:"required,oneof=ONE_ON_ONE GROUP"`
	Title      *string                `json:"title,omitempty" validate:"omitempty,max=200"`
	Agenda     *string                `json:"agenda,omitempty" validate:"omitempty,max=2000"`
	GuestName  string                 `json:"guestName,omitempty" validate:"omitempty,max=100"`
	GuestEmail string                 `json:"guestEmail,omitempty" validate:"omitempty,email"`
}

// JoinReservationRequest carries guest identity for POST /reservations/:id/join.
type JoinReservationRequest struct {
	GuestName  string `json:"guestName,omitempty" validate:"omitempty,max=100"`
	GuestEmail string `json:"guestEmail,omitempty" validate:"omitempty,email"`
}

// CancelReservationRequest optionally identifies a guest canceller by email.
type CancelReservationRequest struct {
	GuestEmail string `json:"guestEmail,omitempty" validate:"omitempty,email"`
}

// SyncResult reports the outcome of an availability sync.
type SyncResult struct {
	Synced  int `json:"synced"`
	Removed int `json:"removed"`
}

// ListReservationsQuery binds GET /reservations query parameters.
type ListReservationsQuery struct {
	Filter models.ReservationScope `form:"filter" validate:"omitempty,oneof=my all"`
}

// ExportReservationsQuery binds GET /admin/reservations/export query parameters.
type ExportReservationsQuery struct {
	Format string     `form:"format" validate:"omitempty,oneof=csv pdf ics"`
	From   *time.Time `form:"from" time_format:"2006-01-02"`
	To     *time.Time `form:"to" time_format:"2006-01-02"`
}

// ExportFile is a rendered export ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// UpdateRoleRequest is the PATCH /admin/users/role payload.
type UpdateRoleRequest struct {
	UserID string          `json:"userId" validate:"required"`
	Role   models.UserRole `json:"role" validate:"required,oneof=ADMIN MEMBER"`
}
