package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reosmzreo0410-netizen/booking-system/internal/dto"
	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
)

const defaultSyncWindow = 30 * 24 * time.Hour

type syncBlockRepository interface {
	ListRemoteIDsByAdmin(ctx context.Context, adminID string) ([]string, error)
	Upsert(ctx context.Context, block *models.AvailabilityBlock) error
	DeleteByRemoteIDs(ctx context.Context, adminID string, remoteIDs []string) (int, error)
}

type taggedEventLister interface {
	ListTaggedEvents(ctx context.Context, adminID string, from, to time.Time) ([]models.RemoteEvent, error)
}

// AvailabilitySyncConfig tunes the sync window and marker.
type AvailabilitySyncConfig struct {
	Marker string
	Window time.Duration
}

// AvailabilitySyncService reconciles an admin's availability blocks with tagged remote events.
type AvailabilitySyncService struct {
	blocks  syncBlockRepository
	events  taggedEventLister
	cache   *CacheService
	metrics *MetricsService
	clock   Clock
	cfg     AvailabilitySyncConfig
	logger  *zap.Logger
}

// NewAvailabilitySyncService constructs the sync engine.
func NewAvailabilitySyncService(blocks syncBlockRepository, events taggedEventLister, cache *CacheService, metrics *MetricsService, clock Clock, cfg AvailabilitySyncConfig, logger *zap.Logger) *AvailabilitySyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultSyncWindow
	}
	return &AvailabilitySyncService{blocks: blocks, events: events, cache: cache, metrics: metrics, clock: clock, cfg: cfg, logger: logger}
}

// Sync pulls tagged events for the admin, upserts a block per event and removes blocks whose
// event is gone or no longer tagged.
func (s *AvailabilitySyncService) Sync(ctx context.Context, adminID string) (*dto.SyncResult, error) {
	now := s.clock.Now()
	events, err := s.events.ListTaggedEvents(ctx, adminID, now, now.Add(s.cfg.Window))
	if err != nil {
		s.logger.Error("availability sync listing failed", zap.String("admin_id", adminID), zap.Error(err))
		if appErr := appErrors.FromError(err); appErr.Code == appErrors.ErrCredentialsMissing.Code {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, appErrors.ErrSyncFailed.Message)
	}

	// snapshot before any upsert so the diff never sees rows written by this pass
	known, err := s.blocks.ListRemoteIDsByAdmin(ctx, adminID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability blocks")
	}

	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		remoteID := event.RemoteID
		block := &models.AvailabilityBlock{
			AdminID:       adminID,
			RemoteEventID: &remoteID,
			Title:         blockTitle(event.Title, s.cfg.Marker),
			StartTime:     event.Start,
			EndTime:       event.End,
		}
		if err := s.blocks.Upsert(ctx, block); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store availability block")
		}
		seen[remoteID] = struct{}{}
	}

	stale := make([]string, 0)
	for _, id := range known {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	removed, err := s.blocks.DeleteByRemoteIDs(ctx, adminID, stale)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove stale availability blocks")
	}

	_ = s.cache.ForgetAdmin(ctx, adminID)
	s.metrics.RecordSync(len(seen), removed)
	s.logger.Info("availability synced", zap.String("admin_id", adminID), zap.Int("synced", len(seen)), zap.Int("removed", removed))
	return &dto.SyncResult{Synced: len(seen), Removed: removed}, nil
}

// blockTitle strips the marker from an event summary. An empty remainder yields nil.
func blockTitle(summary, marker string) *string {
	title := summary
	if marker != "" {
		title = strings.ReplaceAll(title, marker, "")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	return &title
}
