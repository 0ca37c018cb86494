package models

import "time"

// RemoteEvent is a tagged availability event read from the remote calendar.
type RemoteEvent struct {
	RemoteID string
	Title    string
	Start    time.Time
	End      time.Time
}

// BusyInterval is a half-open [Start, End) window during which an admin is occupied.
type BusyInterval struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	RemoteID string    `json:"remote_id,omitempty"`
}

// Overlaps applies the half-open overlap rule against [start, end).
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// EventInput describes an event to create on a remote calendar.
type EventInput struct {
	Summary        string
	Description    string
	Start          time.Time
	End            time.Time
	AttendeeEmails []string
}

// EventPatch is a partial update. Nil fields are left untouched and a non-nil
// AttendeeEmails replaces the whole attendee list.
type EventPatch struct {
	Summary        *string
	Description    *string
	AttendeeEmails *[]string
}
