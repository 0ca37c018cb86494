package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

// CalendarEntry is one event of an iCalendar export.
type CalendarEntry struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Cancelled   bool
	Organizer   string
	Attendees   []string
}

// ICalExporter renders entries as an RFC 5545 VCALENDAR.
type ICalExporter struct {
	prodID string
	now    func() time.Time
}

// NewICalExporter builds an exporter announcing itself with prodID.
func NewICalExporter(prodID string) *ICalExporter {
	return &ICalExporter{prodID: prodID, now: time.Now}
}

// Render encodes the entries. Times are written in UTC.
func (e *ICalExporter) Render(entries []CalendarEntry, name string) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, e.prodID)
	cal.Props.SetText("CALSCALE", "GREGORIAN")
	if name != "" {
		cal.Props.SetText("X-WR-CALNAME", name)
	}

	stamp := e.now().UTC()
	for _, entry := range entries {
		if entry.UID == "" || !entry.Start.Before(entry.End) {
			return nil, fmt.Errorf("calendar entry %q requires a uid and start before end", entry.UID)
		}
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, entry.UID)
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		event.Props.SetDateTime(ical.PropDateTimeStart, entry.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, entry.End.UTC())
		event.Props.SetText(ical.PropSummary, entry.Summary)
		if entry.Description != "" {
			event.Props.SetText(ical.PropDescription, entry.Description)
		}
		status := "CONFIRMED"
		if entry.Cancelled {
			status = "CANCELLED"
		}
		event.Props.SetText(ical.PropStatus, status)
		if entry.Organizer != "" {
			event.Props.Set(calAddress(ical.PropOrganizer, entry.Organizer))
		}
		for _, attendee := range entry.Attendees {
			if attendee != "" {
				event.Props.Add(calAddress(ical.PropAttendee, attendee))
			}
		}
		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func calAddress(name, email string) *ical.Prop {
	prop := ical.NewProp(name)
	prop.Value = "mailto:" + email
	return prop
}
