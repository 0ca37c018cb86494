package models

import "time"

// AvailabilityBlock is an admin window of bookable time mirrored from one tagged remote event.
type AvailabilityBlock struct {
	ID            string    `db:"id" json:"id"`
	AdminID       string    `db:"admin_id" json:"admin_id"`
	RemoteEventID *string   `db:"remote_event_id" json:"remote_event_id,omitempty"`
	Title         *string   `db:"title" json:"title,omitempty"`
	StartTime     time.Time `db:"start_time" json:"start_time"`
	EndTime       time.Time `db:"end_time" json:"end_time"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// BlockWithAdmin augments a block with its owner for slot listings.
type BlockWithAdmin struct {
	AvailabilityBlock
	AdminName  *string `db:"admin_name" json:"admin_name,omitempty"`
	AdminEmail string  `db:"admin_email" json:"admin_email"`
}
