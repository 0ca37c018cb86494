package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/export"
)

const (
	exportFormatCSV  = "csv"
	exportFormatPDF  = "pdf"
	exportFormatICS  = "ics"
	exportProdID     = "-//booking-system//reservations//JA"
	exportTimeLayout = "2006-01-02 15:04"
)

var reservationExportHeaders = []string{"ID", "開始", "終了", "種別", "タイトル", "管理者", "参加者", "議題", "状態"}

type exportReservationRepository interface {
	List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
	ListParticipants(ctx context.Context, reservationIDs []string) ([]models.Participant, error)
}

type exportUserRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type icsRenderer interface {
	Render(entries []export.CalendarEntry, name string) ([]byte, error)
}

// ExportService renders reservation listings for download.
type ExportService struct {
	reservations exportReservationRepository
	users        exportUserRepository
	csv          csvRenderer
	pdf          pdfRenderer
	ics          icsRenderer
	location     *time.Location
	clock        Clock
	logger       *zap.Logger
}

// NewExportService constructs an ExportService. Times are rendered in location.
func NewExportService(reservations exportReservationRepository, users exportUserRepository, csv csvRenderer, pdf pdfRenderer, ics icsRenderer, location *time.Location, clock Clock, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(true)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	if ics == nil {
		ics = export.NewICalExporter(exportProdID)
	}
	if location == nil {
		location = time.UTC
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ExportService{
		reservations: reservations,
		users:        users,
		csv:          csv,
		pdf:          pdf,
		ics:          ics,
		location:     location,
		clock:        clock,
		logger:       logger,
	}
}

// Reservations exports reservations starting within [From, To]. To is an inclusive date.
func (s *ExportService) Reservations(ctx context.Context, query dto.ExportReservationsQuery) (*dto.ExportFile, error) {
	format := strings.ToLower(query.Format)
	if format == "" {
		format = exportFormatCSV
	}
	switch format {
	case exportFormatCSV, exportFormatPDF, exportFormatICS:
	default:
		return nil, appErrors.Field("format", "must be one of csv pdf ics")
	}

	filter := models.ReservationFilter{From: query.From}
	if query.To != nil {
		to := query.To.AddDate(0, 0, 1)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, appErrors.Field("to", "must not be before from")
	}

	snap, err := s.loadSnapshot(ctx, filter)
	if err != nil {
		return nil, err
	}

	var body []byte
	contentType := "text/csv; charset=utf-8"
	switch format {
	case exportFormatPDF:
		contentType = "application/pdf"
		body, err = s.pdf.Render(s.dataset(snap), "予約一覧")
	case exportFormatICS:
		contentType = "text/calendar; charset=utf-8"
		body, err = s.ics.Render(s.calendarEntries(snap), "予約一覧")
	default:
		body, err = s.csv.Render(s.dataset(snap))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("reservations exported", zap.String("format", format), zap.Int("rows", len(snap.reservations)))
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("reservations_%s.%s", s.clock.Now().In(s.location).Format("20060102"), format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

type exportSnapshot struct {
	reservations []models.Reservation
	participants map[string][]models.Participant
	admins       map[string]*models.User
}

func (s *ExportService) loadSnapshot(ctx context.Context, filter models.ReservationFilter) (*exportSnapshot, error) {
	snap := &exportSnapshot{
		participants: map[string][]models.Participant{},
		admins:       map[string]*models.User{},
	}

	reservations, err := s.reservations.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reservations")
	}
	snap.reservations = reservations
	if len(reservations) == 0 {
		return snap, nil
	}

	ids := make([]string, len(reservations))
	adminIDs := make([]string, 0, len(reservations))
	seenAdmin := make(map[string]struct{})
	for i, r := range reservations {
		ids[i] = r.ID
		if _, ok := seenAdmin[r.AdminID]; !ok {
			seenAdmin[r.AdminID] = struct{}{}
			adminIDs = append(adminIDs, r.AdminID)
		}
	}
	participants, err := s.reservations.ListParticipants(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	for _, p := range participants {
		snap.participants[p.ReservationID] = append(snap.participants[p.ReservationID], p)
	}
	admins, err := s.users.FindByIDs(ctx, adminIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admins")
	}
	for i := range admins {
		snap.admins[admins[i].ID] = &admins[i]
	}
	return snap, nil
}

func (s *ExportService) dataset(snap *exportSnapshot) export.Dataset {
	dataset := export.Dataset{Headers: reservationExportHeaders, Rows: make([]map[string]string, 0, len(snap.reservations))}
	for _, r := range snap.reservations {
		agenda := ""
		if r.Agenda != nil {
			agenda = *r.Agenda
		}
		admin := adminFallbackName
		if u, ok := snap.admins[r.AdminID]; ok {
			admin = adminDisplayName(u)
		}
		names := make([]string, 0, len(snap.participants[r.ID]))
		for _, p := range snap.participants[r.ID] {
			names = append(names, p.DisplayName())
		}
		values := []string{
			r.ID,
			r.StartTime.In(s.location).Format(exportTimeLayout),
			r.EndTime.In(s.location).Format(exportTimeLayout),
			string(r.Type),
			r.Title,
			admin,
			strings.Join(names, ", "),
			agenda,
			string(r.Status),
		}
		row := make(map[string]string, len(values))
		for i, header := range reservationExportHeaders {
			row[header] = values[i]
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset
}

func (s *ExportService) calendarEntries(snap *exportSnapshot) []export.CalendarEntry {
	entries := make([]export.CalendarEntry, 0, len(snap.reservations))
	for _, r := range snap.reservations {
		entry := export.CalendarEntry{
			UID:       r.ID + "@booking-system",
			Summary:   r.Title,
			Start:     r.StartTime,
			End:       r.EndTime,
			Cancelled: r.Status == models.ReservationCancelled,
			Attendees: models.ParticipantEmails(snap.participants[r.ID]),
		}
		if r.Agenda != nil {
			entry.Description = *r.Agenda
		}
		if u, ok := snap.admins[r.AdminID]; ok {
			entry.Organizer = u.Email
		}
		entries = append(entries, entry)
	}
	return entries
}
