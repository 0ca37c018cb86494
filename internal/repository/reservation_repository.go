package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
)

const reservationColumns = `id, block_id, admin_id, type, title, agenda, status, start_time, end_time, remote_event_id, creator_id, guest_name, guest_email, created_at, updated_at`

// ReservationRepository persists reservations and their participants.
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository constructs the repository.
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create inserts the reservation together with its first participant in one transaction.
func (r *ReservationRepository) Create(ctx context.Context, reservation *models.Reservation, first *models.Participant) (err error) {
	now := time.Now().UTC()
	if reservation.ID == "" {
		reservation.ID = uuid.NewString()
	}
	reservation.CreatedAt = now
	reservation.UpdatedAt = now
	if first.ID == "" {
		first.ID = uuid.NewString()
	}
	first.ReservationID = reservation.ID
	first.CreatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reservation transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertReservation = `INSERT INTO reservations (` + reservationColumns + `)
VALUES (:id, :block_id, :admin_id, :type, :title, :agenda, :status, :start_time, :end_time, :remote_event_id, :creator_id, :guest_name, :guest_email, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertReservation, reservation); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	if err = insertParticipant(ctx, tx, first); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation: %w", err)
	}
	return nil
}

// FindByID returns a reservation by identifier without participants.
func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	var reservation models.Reservation
	if err := r.db.GetContext(ctx, &reservation, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return &reservation, nil
}

// ListParticipants returns participants of the given reservations in join order.
func (r *ReservationRepository) ListParticipants(ctx context.Context, reservationIDs []string) ([]models.Participant, error) {
	if len(reservationIDs) == 0 {
		return []models.Participant{}, nil
	}
	const query = `SELECT p.id, p.reservation_id, p.user_id, p.guest_name, p.guest_email, p.remote_event_id, p.created_at,
    u.name AS user_name, u.email AS user_email
FROM reservation_participants p
LEFT JOIN users u ON u.id = p.user_id
WHERE p.reservation_id = ANY($1)
ORDER BY p.created_at ASC, p.id ASC`
	var participants []models.Participant
	if err := r.db.SelectContext(ctx, &participants, query, pq.Array(reservationIDs)); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// ListConfirmedInWindow returns confirmed reservations of the admins overlapping [from, to).
func (r *ReservationRepository) ListConfirmedInWindow(ctx context.Context, adminIDs []string, from, to time.Time) ([]models.Reservation, error) {
	if len(adminIDs) == 0 {
		return []models.Reservation{}, nil
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations
WHERE status = 'CONFIRMED' AND admin_id = ANY($1) AND start_time < $3 AND end_time > $2
ORDER BY start_time ASC, created_at ASC`
	var reservations []models.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, pq.Array(adminIDs), from, to); err != nil {
		return nil, fmt.Errorf("list reservations in window: %w", err)
	}
	return reservations, nil
}

// IsParticipant reports whether the identity already participates, matching by user id or
// case-insensitive guest email.
func (r *ReservationRepository) IsParticipant(ctx context.Context, reservationID string, identity models.Identity) (bool, error) {
	var userID, guestEmail interface{}
	if identity.IsUser() {
		userID = *identity.UserID
	} else if identity.GuestEmail != "" {
		guestEmail = identity.GuestEmail
	} else {
		return false, nil
	}
	const query = `SELECT EXISTS (
    SELECT 1 FROM reservation_participants
    WHERE reservation_id = $1 AND (user_id = $2 OR LOWER(guest_email) = LOWER($3))
)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, reservationID, userID, guestEmail); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

// AddParticipant inserts a participant. Duplicate identities surface as a unique violation.
func (r *ReservationRepository) AddParticipant(ctx context.Context, participant *models.Participant) error {
	if participant.ID == "" {
		participant.ID = uuid.NewString()
	}
	participant.CreatedAt = time.Now().UTC()
	return insertParticipant(ctx, r.db, participant)
}

// UpdateStatus sets the reservation status.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus) error {
	const query = `UPDATE reservations SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	return nil
}

// SetRemoteEventID records the mirrored event id. A nil id clears it.
func (r *ReservationRepository) SetRemoteEventID(ctx context.Context, id string, remoteEventID *string) error {
	const query = `UPDATE reservations SET remote_event_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, remoteEventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("set reservation remote event: %w", err)
	}
	return nil
}

// SetParticipantRemoteEventID records the event mirrored onto a participant's calendar. A nil id clears it.
func (r *ReservationRepository) SetParticipantRemoteEventID(ctx context.Context, participantID string, remoteEventID *string) error {
	const query = `UPDATE reservation_participants SET remote_event_id = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, participantID, remoteEventID); err != nil {
		return fmt.Errorf("set participant remote event: %w", err)
	}
	return nil
}

// List returns reservations matching the filter ordered by start time.
func (r *ReservationRepository) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(r.creator_id = $%d OR EXISTS (SELECT 1 FROM reservation_participants p WHERE p.reservation_id = r.id AND p.user_id = $%d))", n, n))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("r.start_time >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("r.start_time < $%d", len(args)))
	}

	query := `SELECT r.` + strings.ReplaceAll(reservationColumns, ", ", ", r.") + ` FROM reservations r`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY r.start_time ASC, r.created_at ASC"

	var reservations []models.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, args...); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return reservations, nil
}

func insertParticipant(ctx context.Context, exec sqlx.ExtContext, participant *models.Participant) error {
	const query = `INSERT INTO reservation_participants (id, reservation_id, user_id, guest_name, guest_email, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := exec.ExecContext(ctx, query,
		participant.ID, participant.ReservationID, participant.UserID, participant.GuestName, participant.GuestEmail, participant.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}
