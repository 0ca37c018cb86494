package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/database"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/jobs"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/middleware/requestid"
)

type reservationBlockRepository interface {
	FindByID(ctx context.Context, id string) (*models.AvailabilityBlock, error)
}

type reservationUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type reservationRepository interface {
	Create(ctx context.Context, reservation *models.Reservation, first *models.Participant) error
	FindByID(ctx context.Context, id string) (*models.Reservation, error)
	ListParticipants(ctx context.Context, reservationIDs []string) ([]models.Participant, error)
	IsParticipant(ctx context.Context, reservationID string, identity models.Identity) (bool, error)
	AddParticipant(ctx context.Context, participant *models.Participant) error
	UpdateStatus(ctx context.Context, id string, status models.ReservationStatus) error
	List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ReservationService manages the reservation lifecycle. Remote calendar mirroring is
// dispatched as background jobs after the local write succeeded.
type ReservationService struct {
	blocks       reservationBlockRepository
	users        reservationUserRepository
	reservations reservationRepository
	dispatcher   jobDispatcher
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewReservationService constructs a ReservationService.
func NewReservationService(blocks reservationBlockRepository, users reservationUserRepository, reservations reservationRepository, dispatcher jobDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReservationService{
		blocks:       blocks,
		users:        users,
		reservations: reservations,
		dispatcher:   dispatcher,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// Create books a time window on a block and adds the requester as first participant.
func (s *ReservationService) Create(ctx context.Context, req dto.CreateReservationRequest, identity models.Identity) (*models.Reservation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Validation(err, "invalid reservation payload")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Field("endTime", "must be after startTime")
	}
	identity, err := s.normaliseIdentity(identity)
	if err != nil {
		return nil, err
	}

	block, err := s.blocks.FindByID(ctx, req.BlockID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "availability block not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability block")
	}
	if req.StartTime.Before(block.StartTime) || req.EndTime.After(block.EndTime) {
		return nil, appErrors.Field("startTime", "must lie within the availability block")
	}

	participant := &models.Participant{}
	reservation := &models.Reservation{
		BlockID:   &block.ID,
		AdminID:   block.AdminID,
		Type:      req.Type,
		Agenda:    trimmedOrNil(req.Agenda),
		Status:    models.ReservationConfirmed,
		StartTime: req.StartTime.UTC(),
		EndTime:   req.EndTime.UTC(),
	}

	var requesterName string
	if identity.IsUser() {
		user, err := s.users.FindByID(ctx, *identity.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
		}
		requesterName = user.DisplayName()
		reservation.CreatorID = identity.UserID
		participant.UserID = identity.UserID
		participant.UserName = user.Name
		participant.UserEmail = &user.Email
	} else {
		requesterName = identity.GuestName
		reservation.GuestName = &identity.GuestName
		participant.GuestName = &identity.GuestName
		if identity.GuestEmail != "" {
			reservation.GuestEmail = &identity.GuestEmail
			participant.GuestEmail = &identity.GuestEmail
		}
	}

	if title := trimmedOrNil(req.Title); title != nil {
		reservation.Title = *title
	} else {
		reservation.Title = defaultReservationTitle(req.Type, requesterName)
	}

	if err := s.reservations.Create(ctx, reservation, participant); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reservation")
	}
	reservation.Participants = []models.Participant{*participant}

	s.logger.Info("reservation created",
		zap.String("reservation_id", reservation.ID),
		zap.String("admin_id", reservation.AdminID),
		zap.String("type", string(reservation.Type)),
	)
	s.dispatch(ctx, JobMirrorCreate, MirrorPayload{ReservationID: reservation.ID, ParticipantID: participant.ID})
	return reservation, nil
}

// Join adds a participant to a confirmed group reservation.
func (s *ReservationService) Join(ctx context.Context, reservationID string, identity models.Identity) error {
	identity, err := s.normaliseIdentity(identity)
	if err != nil {
		return err
	}
	reservation, err := s.find(ctx, reservationID)
	if err != nil {
		return err
	}
	if reservation.Status != models.ReservationConfirmed {
		return appErrors.Clone(appErrors.ErrInvalidState, "reservation is not confirmed")
	}
	if reservation.Type != models.ReservationGroup {
		return appErrors.ErrTypeNotJoinable
	}

	joined, err := s.reservations.IsParticipant(ctx, reservation.ID, identity)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check participation")
	}
	if joined {
		return appErrors.ErrAlreadyJoined
	}

	participant := &models.Participant{ReservationID: reservation.ID}
	if identity.IsUser() {
		participant.UserID = identity.UserID
	} else {
		participant.GuestName = &identity.GuestName
		if identity.GuestEmail != "" {
			participant.GuestEmail = &identity.GuestEmail
		}
	}
	if err := s.reservations.AddParticipant(ctx, participant); err != nil {
		if database.IsUniqueViolation(err) {
			return appErrors.ErrAlreadyJoined
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join reservation")
	}

	s.logger.Info("reservation joined", zap.String("reservation_id", reservation.ID), zap.String("participant_id", participant.ID))
	s.dispatch(ctx, JobMirrorJoin, MirrorPayload{ReservationID: reservation.ID, ParticipantID: participant.ID})
	return nil
}

// Cancel marks the reservation cancelled. Repeated calls are accepted and only retry the
// remote deletions that have not succeeded yet.
func (s *ReservationService) Cancel(ctx context.Context, reservationID string, requester models.Identity) error {
	reservation, err := s.find(ctx, reservationID)
	if err != nil {
		return err
	}
	participants, err := s.reservations.ListParticipants(ctx, []string{reservation.ID})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}

	allowed := reservation.CreatedBy(requester) ||
		(requester.IsUser() && *requester.UserID == reservation.AdminID) ||
		isParticipant(participants, requester)
	if !allowed {
		return appErrors.Clone(appErrors.ErrForbidden, "only participants or the host can cancel this reservation")
	}

	if reservation.Status != models.ReservationCancelled {
		if err := s.reservations.UpdateStatus(ctx, reservation.ID, models.ReservationCancelled); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel reservation")
		}
		s.logger.Info("reservation cancelled", zap.String("reservation_id", reservation.ID))

		// a mirror job may have stored an event id since the first read
		if reservation, err = s.find(ctx, reservation.ID); err != nil {
			return err
		}
		if participants, err = s.reservations.ListParticipants(ctx, []string{reservation.ID}); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
		}
	}

	if hasRemoteEvents(reservation, participants) {
		s.dispatch(ctx, JobMirrorCancel, MirrorPayload{ReservationID: reservation.ID})
	}
	return nil
}

// Get returns a reservation with its block, admin, creator and participants.
// Email addresses are only shown to the owning admin and an authenticated creator.
func (s *ReservationService) Get(ctx context.Context, reservationID string, viewer models.Identity) (*models.ReservationDetail, error) {
	reservation, err := s.find(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	participants, err := s.reservations.ListParticipants(ctx, []string{reservation.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	reservation.Participants = participants
	if !canSeeContacts(reservation, viewer) {
		reservation.RedactContacts()
	}

	detail := &models.ReservationDetail{Reservation: *reservation}
	if reservation.BlockID != nil {
		block, err := s.blocks.FindByID(ctx, *reservation.BlockID)
		switch {
		case err == nil:
			detail.Block = block
		case !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability block")
		}
	}
	if detail.Admin, err = s.userSummary(ctx, &reservation.AdminID); err != nil {
		return nil, err
	}
	if detail.Creator, err = s.userSummary(ctx, reservation.CreatorID); err != nil {
		return nil, err
	}
	return detail, nil
}

// List returns confirmed reservations. The "all" scope is restricted to admins.
func (s *ReservationService) List(ctx context.Context, claims *models.JWTClaims, scope models.ReservationScope) ([]models.Reservation, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	status := models.ReservationConfirmed
	filter := models.ReservationFilter{Status: &status}
	switch scope {
	case models.ScopeAll:
		if claims.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can list all reservations")
		}
	case models.ScopeMine, "":
		filter.UserID = &claims.UserID
	default:
		return nil, appErrors.Field("filter", "must be one of my all")
	}

	reservations, err := s.reservations.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reservations")
	}
	if len(reservations) == 0 {
		return []models.Reservation{}, nil
	}
	ids := make([]string, len(reservations))
	for i := range reservations {
		ids[i] = reservations[i].ID
	}
	participants, err := s.reservations.ListParticipants(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	byReservation := make(map[string][]models.Participant, len(reservations))
	for _, p := range participants {
		byReservation[p.ReservationID] = append(byReservation[p.ReservationID], p)
	}
	for i := range reservations {
		reservations[i].Participants = byReservation[reservations[i].ID]
		if reservations[i].Participants == nil {
			reservations[i].Participants = []models.Participant{}
		}
	}
	return reservations, nil
}

func (s *ReservationService) find(ctx context.Context, id string) (*models.Reservation, error) {
	reservation, err := s.reservations.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	return reservation, nil
}

func (s *ReservationService) userSummary(ctx context.Context, id *string) (*models.UserSummary, error) {
	if id == nil {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, *id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user.Summary(), nil
}

func (s *ReservationService) dispatch(ctx context.Context, jobType string, payload MirrorPayload) {
	if s.dispatcher == nil {
		return
	}
	payload.RequestID = requestid.FromContext(ctx)
	if err := s.dispatcher.Enqueue(jobs.Job{Type: jobType, Payload: payload}); err != nil {
		s.metrics.RecordMirrorFailure("enqueue")
		s.logger.Warn("failed to enqueue calendar mirror job",
			zap.String("job_type", jobType),
			zap.String("reservation_id", payload.ReservationID),
			zap.String("request_id", payload.RequestID),
			zap.Error(err),
		)
	}
}

// normaliseIdentity trims guest fields and rejects guests without a name or with a malformed email.
func (s *ReservationService) normaliseIdentity(identity models.Identity) (models.Identity, error) {
	if identity.IsUser() {
		return models.Identity{UserID: identity.UserID}, nil
	}
	identity.GuestName = strings.TrimSpace(identity.GuestName)
	identity.GuestEmail = strings.TrimSpace(identity.GuestEmail)
	if identity.GuestName == "" {
		return identity, appErrors.Field("guestName", "is required")
	}
	if identity.GuestEmail != "" {
		if err := s.validator.Var(identity.GuestEmail, "email"); err != nil {
			return identity, appErrors.Field("guestEmail", "must be a valid email address")
		}
	}
	return identity, nil
}

func isParticipant(participants []models.Participant, identity models.Identity) bool {
	for _, p := range participants {
		if identity.IsUser() {
			if p.UserID != nil && *p.UserID == *identity.UserID {
				return true
			}
			continue
		}
		if identity.GuestEmail != "" && p.GuestEmail != nil && strings.EqualFold(*p.GuestEmail, identity.GuestEmail) {
			return true
		}
	}
	return false
}

func canSeeContacts(reservation *models.Reservation, viewer models.Identity) bool {
	if !viewer.IsUser() {
		return false
	}
	return *viewer.UserID == reservation.AdminID || reservation.CreatedBy(viewer)
}

func hasRemoteEvents(reservation *models.Reservation, participants []models.Participant) bool {
	if reservation.RemoteEventID != nil {
		return true
	}
	for _, p := range participants {
		if p.RemoteEventID != nil {
			return true
		}
	}
	return false
}

func defaultReservationTitle(kind models.ReservationType, name string) string {
	if kind == models.ReservationGroup {
		return name + "のフィードバック会"
	}
	return name + "との1on1"
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
