package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/jobs"
)

// Mirror job types.
const (
	JobMirrorCreate = "reservation.mirror.create"
	JobMirrorJoin   = "reservation.mirror.join"
	JobMirrorCancel = "reservation.mirror.cancel"
)

const adminFallbackName = "管理者"

// MirrorPayload identifies the reservation, and for create and join the participant, a job refers to.
type MirrorPayload struct {
	ReservationID string `json:"reservation_id"`
	ParticipantID string `json:"participant_id,omitempty"`
	// RequestID correlates the job with the HTTP request that caused it.
	RequestID string `json:"request_id,omitempty"`
}

// DecodeMirrorPayload restores a MirrorPayload persisted by a durable queue.
func DecodeMirrorPayload(jobType string, raw json.RawMessage) (interface{}, error) {
	var payload MirrorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", jobType, err)
	}
	if payload.ReservationID == "" {
		return nil, fmt.Errorf("decode %s payload: reservation id missing", jobType)
	}
	return payload, nil
}

type mirrorReservationRepository interface {
	FindByID(ctx context.Context, id string) (*models.Reservation, error)
	ListParticipants(ctx context.Context, reservationIDs []string) ([]models.Participant, error)
	SetRemoteEventID(ctx context.Context, id string, remoteEventID *string) error
	SetParticipantRemoteEventID(ctx context.Context, participantID string, remoteEventID *string) error
}

type mirrorUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type eventWriter interface {
	CreateEvent(ctx context.Context, userID string, input models.EventInput) (string, error)
	UpdateEvent(ctx context.Context, userID, remoteEventID string, patch models.EventPatch) error
	DeleteEvent(ctx context.Context, userID, remoteEventID string) error
}

// MirrorWorker replays reservation changes onto remote calendars. Remote failures are logged
// and counted; only idempotent operations are handed back to the queue for retry.
type MirrorWorker struct {
	reservations mirrorReservationRepository
	users        mirrorUserRepository
	events       eventWriter
	cache        *CacheService
	metrics      *MetricsService
	memberMirror bool
	logger       *zap.Logger
}

// NewMirrorWorker constructs the worker. With memberMirror set, authenticated requesters also
// get an event on their own calendar inviting the admin.
func NewMirrorWorker(reservations mirrorReservationRepository, users mirrorUserRepository, events eventWriter, cache *CacheService, metrics *MetricsService, memberMirror bool, logger *zap.Logger) *MirrorWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorWorker{
		reservations: reservations,
		users:        users,
		events:       events,
		cache:        cache,
		metrics:      metrics,
		memberMirror: memberMirror,
		logger:       logger,
	}
}

// Handle is a jobs.Handler.
func (w *MirrorWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(MirrorPayload)
	if !ok {
		w.logger.Error("unexpected mirror payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	w.logger.Debug("mirroring reservation",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("reservation_id", payload.ReservationID),
		zap.String("request_id", payload.RequestID),
		zap.Int("attempt", job.Attempt),
	)
	switch job.Type {
	case JobMirrorCreate:
		return w.mirrorCreate(ctx, payload)
	case JobMirrorJoin:
		return w.mirrorJoin(ctx, payload)
	case JobMirrorCancel:
		return w.mirrorCancel(ctx, payload)
	default:
		w.logger.Error("unknown mirror job", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
}

func (w *MirrorWorker) mirrorCreate(ctx context.Context, payload MirrorPayload) error {
	state, err := w.load(ctx, payload.ReservationID)
	if err != nil || state == nil {
		return err
	}
	res := state.reservation
	if res.Status != models.ReservationConfirmed {
		return nil
	}
	requester := findParticipant(state.participants, payload.ParticipantID)

	if res.RemoteEventID == nil {
		name := "メンバー"
		if requester != nil {
			name = requester.DisplayName()
		}
		id, err := w.events.CreateEvent(ctx, res.AdminID, models.EventInput{
			Summary:        "【予約】" + name + "との面談",
			Description:    agendaDescription(res.Agenda),
			Start:          res.StartTime,
			End:            res.EndTime,
			AttendeeEmails: models.ParticipantEmails(state.participants),
		})
		if err != nil {
			// insert is not idempotent, a retry could duplicate the event
			w.fail("create", res.ID, err)
		} else {
			if err := w.reservations.SetRemoteEventID(ctx, res.ID, &id); err != nil {
				w.fail("store", res.ID, err)
			}
			_ = w.cache.ForgetAdmin(ctx, res.AdminID)
			if w.cancelledMeanwhile(ctx, res.ID) {
				w.retract(ctx, res, res.AdminID, id, func() error {
					return w.reservations.SetRemoteEventID(ctx, res.ID, nil)
				})
				return nil
			}
		}
	}

	if requester != nil {
		w.mirrorToMember(ctx, res, requester, "【予約】"+adminDisplayName(state.admin)+"との面談", state.admin)
	}
	return nil
}

func (w *MirrorWorker) mirrorJoin(ctx context.Context, payload MirrorPayload) error {
	state, err := w.load(ctx, payload.ReservationID)
	if err != nil || state == nil {
		return err
	}
	res := state.reservation
	if res.Status != models.ReservationConfirmed {
		return nil
	}

	var retryErr error
	if res.RemoteEventID != nil {
		emails := models.ParticipantEmails(state.participants)
		if err := w.events.UpdateEvent(ctx, res.AdminID, *res.RemoteEventID, models.EventPatch{AttendeeEmails: &emails}); err != nil {
			w.fail("update", res.ID, err)
			if retryable(err) {
				retryErr = err
			}
		}
	}

	if joiner := findParticipant(state.participants, payload.ParticipantID); joiner != nil {
		w.mirrorToMember(ctx, res, joiner, "【フィードバック会】"+adminDisplayName(state.admin), state.admin)
	}
	return retryErr
}

func (w *MirrorWorker) mirrorCancel(ctx context.Context, payload MirrorPayload) error {
	state, err := w.load(ctx, payload.ReservationID)
	if err != nil || state == nil {
		return err
	}
	res := state.reservation

	var errs []error
	if res.RemoteEventID != nil {
		if err := w.events.DeleteEvent(ctx, res.AdminID, *res.RemoteEventID); err != nil {
			w.fail("delete", res.ID, err)
			if retryable(err) {
				errs = append(errs, err)
			}
		} else {
			if err := w.reservations.SetRemoteEventID(ctx, res.ID, nil); err != nil {
				w.fail("store", res.ID, err)
			}
			_ = w.cache.ForgetAdmin(ctx, res.AdminID)
		}
	}

	for _, p := range state.participants {
		if p.UserID == nil || p.RemoteEventID == nil {
			continue
		}
		if err := w.events.DeleteEvent(ctx, *p.UserID, *p.RemoteEventID); err != nil {
			w.fail("delete_member", res.ID, err)
			if retryable(err) {
				errs = append(errs, err)
			}
			continue
		}
		if err := w.reservations.SetParticipantRemoteEventID(ctx, p.ID, nil); err != nil {
			w.fail("store", res.ID, err)
		}
	}
	return errors.Join(errs...)
}

// mirrorToMember creates an event on an authenticated participant's calendar inviting the admin.
func (w *MirrorWorker) mirrorToMember(ctx context.Context, res *models.Reservation, participant *models.Participant, summary string, admin *models.User) {
	if !w.memberMirror || participant.UserID == nil || participant.RemoteEventID != nil {
		return
	}
	var attendees []string
	if admin != nil && admin.Email != "" {
		attendees = []string{admin.Email}
	}
	id, err := w.events.CreateEvent(ctx, *participant.UserID, models.EventInput{
		Summary:        summary,
		Description:    agendaDescription(res.Agenda),
		Start:          res.StartTime,
		End:            res.EndTime,
		AttendeeEmails: attendees,
	})
	if err != nil {
		w.fail("create_member", res.ID, err)
		return
	}
	if err := w.reservations.SetParticipantRemoteEventID(ctx, participant.ID, &id); err != nil {
		w.fail("store", res.ID, err)
	}
	if w.cancelledMeanwhile(ctx, res.ID) {
		w.retract(ctx, res, *participant.UserID, id, func() error {
			return w.reservations.SetParticipantRemoteEventID(ctx, participant.ID, nil)
		})
	}
}

// cancelledMeanwhile rereads the status after an event id was stored. Cancel reads the
// stored ids after its own status write, so one of the two sides always sees the other.
func (w *MirrorWorker) cancelledMeanwhile(ctx context.Context, reservationID string) bool {
	current, err := w.reservations.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true
		}
		w.logger.Warn("reservation status recheck failed", zap.String("reservation_id", reservationID), zap.Error(err))
		return false
	}
	return current.Status != models.ReservationConfirmed
}

// retract deletes an event created for a reservation that was cancelled while it was being mirrored.
func (w *MirrorWorker) retract(ctx context.Context, res *models.Reservation, userID, remoteEventID string, clear func() error) {
	w.logger.Info("retracting event of cancelled reservation", zap.String("reservation_id", res.ID), zap.String("user_id", userID))
	if err := w.events.DeleteEvent(ctx, userID, remoteEventID); err != nil {
		w.fail("delete", res.ID, err)
		return
	}
	if err := clear(); err != nil {
		w.fail("store", res.ID, err)
	}
	if userID == res.AdminID {
		_ = w.cache.ForgetAdmin(ctx, res.AdminID)
	}
}

type mirrorState struct {
	reservation  *models.Reservation
	participants []models.Participant
	admin        *models.User
}

// load returns nil state without error when the reservation no longer exists.
func (w *MirrorWorker) load(ctx context.Context, reservationID string) (*mirrorState, error) {
	reservation, err := w.reservations.FindByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Warn("mirror target vanished", zap.String("reservation_id", reservationID))
			return nil, nil
		}
		return nil, err
	}
	participants, err := w.reservations.ListParticipants(ctx, []string{reservationID})
	if err != nil {
		return nil, err
	}
	admin, err := w.users.FindByID(ctx, reservation.AdminID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &mirrorState{reservation: reservation, participants: participants, admin: admin}, nil
}

func (w *MirrorWorker) fail(operation, reservationID string, err error) {
	w.metrics.RecordMirrorFailure(operation)
	w.logger.Warn("calendar mirror failed",
		zap.String("operation", operation),
		zap.String("reservation_id", reservationID),
		zap.Error(err),
	)
}

func findParticipant(participants []models.Participant, id string) *models.Participant {
	for i := range participants {
		if participants[i].ID == id {
			return &participants[i]
		}
	}
	return nil
}

func adminDisplayName(admin *models.User) string {
	if admin == nil || admin.Name == nil || *admin.Name == "" {
		return adminFallbackName
	}
	return *admin.Name
}

func agendaDescription(agenda *string) string {
	if agenda == nil || *agenda == "" {
		return ""
	}
	return "議題: " + *agenda
}

// retryable reports whether a remote failure may succeed on a later attempt.
func retryable(err error) bool {
	return appErrors.FromError(err).Code != appErrors.ErrCredentialsMissing.Code
}
