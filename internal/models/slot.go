package models

import "time"

// Slot is a fixed-width bookable subdivision of an availability block. Slots are computed, never stored.
type Slot struct {
	BlockID      string            `json:"block_id"`
	AdminID      string            `json:"admin_id"`
	AdminName    *string           `json:"admin_name,omitempty"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Reservations []SlotReservation `json:"reservations"`
}

// SlotReservation is the reduced reservation view attached to a slot.
type SlotReservation struct {
	ID           string                `json:"id"`
	Type         ReservationType       `json:"type"`
	Title        string                `json:"title"`
	Participants []ParticipantIdentity `json:"participants"`
}

// ParticipantIdentity is the public identity of a participant. Contact addresses are never exposed.
type ParticipantIdentity struct {
	UserID *string `json:"user_id,omitempty"`
	Name   string  `json:"name"`
}
