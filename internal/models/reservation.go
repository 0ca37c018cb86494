package models

import (
	"strings"
	"time"
)

// ReservationType distinguishes private sessions from joinable group sessions.
type ReservationType string

const (
	ReservationOneOnOne ReservationType = "ONE_ON_ONE"
	ReservationGroup    ReservationType = "GROUP"
)

// ReservationStatus is the lifecycle state. CANCELLED is terminal.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is a booking against a time window. It keeps its own copy of the
// window so it survives removal of the originating block.
type Reservation struct {
	ID            string            `db:"id" json:"id"`
	BlockID       *string           `db:"block_id" json:"block_id,omitempty"`
	AdminID       string            `db:"admin_id" json:"admin_id"`
	Type          ReservationType   `db:"type" json:"type"`
	Title         string            `db:"title" json:"title"`
	Agenda        *string           `db:"agenda" json:"agenda,omitempty"`
	Status        ReservationStatus `db:"status" json:"status"`
	StartTime     time.Time         `db:"start_time" json:"start_time"`
	EndTime       time.Time         `db:"end_time" json:"end_time"`
	RemoteEventID *string           `db:"remote_event_id" json:"remote_event_id,omitempty"`
	CreatorID     *string           `db:"creator_id" json:"creator_id,omitempty"`
	GuestName     *string           `db:"guest_name" json:"guest_name,omitempty"`
	GuestEmail    *string           `db:"guest_email" json:"guest_email,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`

	Participants []Participant `db:"-" json:"participants"`
}

// CreatedBy reports whether the identity is the reservation's creator.
func (r *Reservation) CreatedBy(id Identity) bool {
	if id.IsUser() {
		return r.CreatorID != nil && *r.CreatorID == *id.UserID
	}
	return id.GuestEmail != "" && r.GuestEmail != nil && strings.EqualFold(*r.GuestEmail, id.GuestEmail)
}

// Participant is one attendee of a reservation. Either UserID or GuestName is set.
// RemoteEventID is the event mirrored onto an authenticated participant's own calendar.
type Participant struct {
	ID            string    `db:"id" json:"id"`
	ReservationID string    `db:"reservation_id" json:"reservation_id"`
	UserID        *string   `db:"user_id" json:"user_id,omitempty"`
	GuestName     *string   `db:"guest_name" json:"guest_name,omitempty"`
	GuestEmail    *string   `db:"guest_email" json:"guest_email,omitempty"`
	RemoteEventID *string   `db:"remote_event_id" json:"-"`
	UserName      *string   `db:"user_name" json:"user_name,omitempty"`
	UserEmail     *string   `db:"user_email" json:"user_email,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Email returns the address used to invite the participant, if any.
func (p Participant) Email() string {
	if p.UserID != nil {
		if p.UserEmail != nil {
			return *p.UserEmail
		}
		return ""
	}
	if p.GuestEmail != nil {
		return *p.GuestEmail
	}
	return ""
}

// DisplayName returns the participant's visible name.
func (p Participant) DisplayName() string {
	if p.UserID != nil {
		if p.UserName != nil && *p.UserName != "" {
			return *p.UserName
		}
		return fallbackDisplayName
	}
	if p.GuestName != nil {
		return *p.GuestName
	}
	return ""
}

// ParticipantEmails collects the distinct non-empty invite addresses.
func ParticipantEmails(participants []Participant) []string {
	seen := make(map[string]struct{}, len(participants))
	emails := make([]string, 0, len(participants))
	for _, p := range participants {
		email := p.Email()
		if email == "" {
			continue
		}
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		emails = append(emails, email)
	}
	return emails
}

// RedactContacts drops guest and participant email addresses.
func (r *Reservation) RedactContacts() {
	r.GuestEmail = nil
	for i := range r.Participants {
		r.Participants[i].GuestEmail = nil
		r.Participants[i].UserEmail = nil
	}
}

// ReservationDetail is a reservation with its nested block, admin, creator and participants.
type ReservationDetail struct {
	Reservation
	Block   *AvailabilityBlock `json:"block,omitempty"`
	Admin   *UserSummary       `json:"admin,omitempty"`
	Creator *UserSummary       `json:"creator,omitempty"`
}

// ReservationScope selects which reservations a listing returns.
type ReservationScope string

const (
	ScopeMine ReservationScope = "my"
	ScopeAll  ReservationScope = "all"
)

// ReservationFilter narrows reservation listings.
type ReservationFilter struct {
	// UserID restricts results to reservations the user created or joined.
	UserID *string
	Status *ReservationStatus
	From   *time.Time
	To     *time.Time
}
