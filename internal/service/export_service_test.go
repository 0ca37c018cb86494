package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/export"
)

type mockPDFRenderer struct {
	title   string
	dataset export.Dataset
}

func (m *mockPDFRenderer) Render(data export.Dataset, title string) ([]byte, error) {
	m.title = title
	m.dataset = data
	return []byte("%PDF-1.3"), nil
}

func newExportFixture(t *testing.T) (*ExportService, *mockPDFRenderer) {
	t.Helper()
	users := newMemoryUsers(
		models.User{ID: "admin-1", Email: "admin@example.com", Name: strRef("Sensei"), Role: models.RoleAdmin},
		models.User{ID: "member-1", Email: "taro@example.com", Name: strRef("Taro"), Role: models.RoleMember},
	)
	reservations := newMemoryReservations(users)
	ctx := context.Background()

	first := &models.Reservation{AdminID: "admin-1", Type: models.ReservationGroup, Title: "フィードバック会", Agenda: strRef("振り返り"), Status: models.ReservationConfirmed, StartTime: at(1, 0), EndTime: at(1, 30)}
	require.NoError(t, reservations.Create(ctx, first, &models.Participant{UserID: strRef("member-1")}))
	require.NoError(t, reservations.AddParticipant(ctx, &models.Participant{ReservationID: first.ID, GuestName: strRef("Hanako")}))
	later := &models.Reservation{AdminID: "admin-1", Type: models.ReservationOneOnOne, Title: "1on1", Status: models.ReservationCancelled, StartTime: at(1, 0).AddDate(0, 0, 3), EndTime: at(1, 30).AddDate(0, 0, 3)}
	require.NoError(t, reservations.Create(ctx, later, &models.Participant{GuestName: strRef("Jiro")}))

	pdf := &mockPDFRenderer{}
	svc := NewExportService(reservations, users, nil, pdf, nil, time.FixedZone("JST", 9*60*60), fixedClock{now: slotNow}, nil)
	return svc, pdf
}

func TestExportReservationsCSV(t *testing.T) {
	svc, _ := newExportFixture(t)

	file, err := svc.Reservations(context.Background(), dto.ExportReservationsQuery{})
	require.NoError(t, err)
	assert.Equal(t, "reservations_20261020.csv", file.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)

	body := bytes.TrimPrefix(file.Body, []byte("\xEF\xBB\xBF"))
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, reservationExportHeaders, records[0])
	assert.Equal(t, []string{records[1][0], "2026-10-20 10:00", "2026-10-20 10:30", "GROUP", "フィードバック会", "Sensei", "Taro, Hanako", "振り返り", "CONFIRMED"}, records[1])
	assert.Equal(t, "CANCELLED", records[2][8])
}

func TestExportReservationsPDFWithRange(t *testing.T) {
	svc, pdf := newExportFixture(t)
	from := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	to := from

	file, err := svc.Reservations(context.Background(), dto.ExportReservationsQuery{Format: "pdf", From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Equal(t, "予約一覧", pdf.title)
	assert.Len(t, pdf.dataset.Rows, 1)
}

func TestExportReservationsRejectsBadInput(t *testing.T) {
	svc, _ := newExportFixture(t)

	_, err := svc.Reservations(context.Background(), dto.ExportReservationsQuery{Format: "xlsx"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	from := time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	_, err = svc.Reservations(context.Background(), dto.ExportReservationsQuery{From: &from, To: &to})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExportReservationsICS(t *testing.T) {
	svc, _ := newExportFixture(t)

	file, err := svc.Reservations(context.Background(), dto.ExportReservationsQuery{Format: "ics"})
	require.NoError(t, err)
	assert.Equal(t, "reservations_20261020.ics", file.Filename)
	assert.Equal(t, "text/calendar; charset=utf-8", file.ContentType)

	body := string(file.Body)
	assert.Equal(t, 2, strings.Count(body, "BEGIN:VEVENT"))
	assert.Contains(t, body, "DTSTART:20261020T010000Z")
	assert.Contains(t, body, "ORGANIZER:mailto:admin@example.com")
	assert.Contains(t, body, "ATTENDEE:mailto:taro@example.com")
	assert.Contains(t, body, "STATUS:CANCELLED")
}
