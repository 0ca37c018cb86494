package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
)

const (
	defaultSlotDuration = 30 * time.Minute
	busyLookupLimit     = 4
)

type slotBlockRepository interface {
	ListUpcoming(ctx context.Context, from time.Time) ([]models.BlockWithAdmin, error)
}

type slotReservationRepository interface {
	ListConfirmedInWindow(ctx context.Context, adminIDs []string, from, to time.Time) ([]models.Reservation, error)
	ListParticipants(ctx context.Context, reservationIDs []string) ([]models.Participant, error)
}

type busyLister interface {
	ListBusyIntervals(ctx context.Context, adminID string, from, to time.Time) ([]models.BusyInterval, error)
}

// SlotService expands availability blocks into bookable slots.
type SlotService struct {
	blocks       slotBlockRepository
	reservations slotReservationRepository
	busy         busyLister
	cache        *CacheService
	clock        Clock
	slotDuration time.Duration
	logger       *zap.Logger
}

// SlotServiceConfig tunes slot derivation.
type SlotServiceConfig struct {
	SlotDuration time.Duration
}

// NewSlotService constructs the slot deriver.
func NewSlotService(blocks slotBlockRepository, reservations slotReservationRepository, busy busyLister, cache *CacheService, clock Clock, cfg SlotServiceConfig, logger *zap.Logger) *SlotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = defaultSlotDuration
	}
	return &SlotService{
		blocks:       blocks,
		reservations: reservations,
		busy:         busy,
		cache:        cache,
		clock:        clock,
		slotDuration: cfg.SlotDuration,
		logger:       logger,
	}
}

type adminSpan struct {
	start time.Time
	end   time.Time
}

// List derives every bookable slot from blocks starting now or later, in block start order.
func (s *SlotService) List(ctx context.Context) ([]models.Slot, error) {
	now := s.clock.Now()
	blocks, err := s.blocks.ListUpcoming(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}
	slots := []models.Slot{}
	if len(blocks) == 0 {
		return slots, nil
	}

	spans := make(map[string]*adminSpan)
	adminIDs := make([]string, 0)
	windowStart, windowEnd := blocks[0].StartTime, blocks[0].EndTime
	for _, block := range blocks {
		span, ok := spans[block.AdminID]
		if !ok {
			spans[block.AdminID] = &adminSpan{start: block.StartTime, end: block.EndTime}
			adminIDs = append(adminIDs, block.AdminID)
		} else {
			if block.StartTime.Before(span.start) {
				span.start = block.StartTime
			}
			if block.EndTime.After(span.end) {
				span.end = block.EndTime
			}
		}
		if block.StartTime.Before(windowStart) {
			windowStart = block.StartTime
		}
		if block.EndTime.After(windowEnd) {
			windowEnd = block.EndTime
		}
	}

	reservations, err := s.reservations.ListConfirmedInWindow(ctx, adminIDs, windowStart, windowEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservations")
	}
	participants, err := s.loadParticipants(ctx, reservations)
	if err != nil {
		return nil, err
	}

	// events this system mirrored itself must not hide the slot they were booked in
	ownEvents := make(map[string]map[string]struct{}, len(adminIDs))
	reservationsByAdmin := make(map[string][]models.Reservation, len(adminIDs))
	for _, reservation := range reservations {
		reservation.Participants = participants[reservation.ID]
		reservationsByAdmin[reservation.AdminID] = append(reservationsByAdmin[reservation.AdminID], reservation)
		ids := ownEvents[reservation.AdminID]
		if ids == nil {
			ids = make(map[string]struct{})
			ownEvents[reservation.AdminID] = ids
		}
		if reservation.RemoteEventID != nil {
			ids[*reservation.RemoteEventID] = struct{}{}
		}
		for _, p := range reservation.Participants {
			if p.RemoteEventID != nil {
				ids[*p.RemoteEventID] = struct{}{}
			}
		}
	}

	busy := s.loadBusy(ctx, spans, adminIDs)

	for _, block := range blocks {
		intervals, ok := busy[block.AdminID]
		if !ok {
			continue
		}
		for start := block.StartTime; ; start = start.Add(s.slotDuration) {
			end := start.Add(s.slotDuration)
			if end.After(block.EndTime) {
				break
			}
			if overlapsBusy(intervals, ownEvents[block.AdminID], start, end) {
				continue
			}
			slots = append(slots, models.Slot{
				BlockID:      block.ID,
				AdminID:      block.AdminID,
				AdminName:    block.AdminName,
				StartTime:    start,
				EndTime:      end,
				Reservations: attachReservations(reservationsByAdmin[block.AdminID], start, end),
			})
		}
	}
	return slots, nil
}

func (s *SlotService) loadParticipants(ctx context.Context, reservations []models.Reservation) (map[string][]models.Participant, error) {
	byReservation := make(map[string][]models.Participant, len(reservations))
	if len(reservations) == 0 {
		return byReservation, nil
	}
	ids := make([]string, len(reservations))
	for i, reservation := range reservations {
		ids[i] = reservation.ID
	}
	participants, err := s.reservations.ListParticipants(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load participants")
	}
	for _, p := range participants {
		byReservation[p.ReservationID] = append(byReservation[p.ReservationID], p)
	}
	return byReservation, nil
}

// loadBusy fetches busy intervals once per admin over that admin's block span. Admins whose
// lookup failed are absent from the result so their slots are withheld.
func (s *SlotService) loadBusy(ctx context.Context, spans map[string]*adminSpan, adminIDs []string) map[string][]models.BusyInterval {
	var mu sync.Mutex
	result := make(map[string][]models.BusyInterval, len(adminIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(busyLookupLimit)
	for _, adminID := range adminIDs {
		adminID := adminID
		span := spans[adminID]
		g.Go(func() error {
			intervals, err := s.busyIntervals(gctx, adminID, span.start, span.end)
			if err != nil {
				s.logger.Warn("busy lookup failed, withholding admin slots", zap.String("admin_id", adminID), zap.Error(err))
				return nil
			}
			mu.Lock()
			result[adminID] = intervals
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (s *SlotService) busyIntervals(ctx context.Context, adminID string, from, to time.Time) ([]models.BusyInterval, error) {
	if cached, hit := s.cache.BusyIntervals(ctx, adminID, from, to); hit {
		return cached, nil
	}
	intervals, err := s.busy.ListBusyIntervals(ctx, adminID, from, to)
	if err != nil {
		return nil, err
	}
	s.cache.StoreBusyIntervals(ctx, adminID, from, to, intervals)
	return intervals, nil
}

func overlapsBusy(intervals []models.BusyInterval, own map[string]struct{}, start, end time.Time) bool {
	for _, busy := range intervals {
		if busy.RemoteID != "" {
			if _, mirrored := own[busy.RemoteID]; mirrored {
				continue
			}
		}
		if busy.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func attachReservations(reservations []models.Reservation, start, end time.Time) []models.SlotReservation {
	attached := []models.SlotReservation{}
	for _, reservation := range reservations {
		if !(reservation.StartTime.Before(end) && reservation.EndTime.After(start)) {
			continue
		}
		identities := make([]models.ParticipantIdentity, 0, len(reservation.Participants))
		for _, p := range reservation.Participants {
			identities = append(identities, models.ParticipantIdentity{
				UserID: p.UserID,
				Name:   p.DisplayName(),
			})
		}
		attached = append(attached, models.SlotReservation{
			ID:           reservation.ID,
			Type:         reservation.Type,
			Title:        reservation.Title,
			Participants: identities,
		})
	}
	return attached
}
