package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService keeps short-lived copies of admins' remote busy intervals.
// Entries are keyed by admin and lookup window; anything that changes an
// admin's calendar forgets all of that admin's entries. A disabled or nil
// service behaves as a permanent miss.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// BusyIntervals returns the cached intervals for the window. Errors count as misses.
func (s *CacheService) BusyIntervals(ctx context.Context, adminID string, from, to time.Time) ([]models.BusyInterval, bool) {
	if !s.Enabled() {
		return nil, false
	}
	key := busyCacheKey(adminID, from, to)
	var intervals []models.BusyInterval
	start := time.Now()
	err := s.repo.Get(ctx, key, &intervals)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("busy cache read failed", zap.String("admin_id", adminID), zap.Error(err))
		}
		return nil, false
	}
	return intervals, true
}

// StoreBusyIntervals caches the intervals fetched for the window.
func (s *CacheService) StoreBusyIntervals(ctx context.Context, adminID string, from, to time.Time, intervals []models.BusyInterval) {
	if !s.Enabled() {
		return
	}
	if intervals == nil {
		intervals = []models.BusyInterval{}
	}
	start := time.Now()
	err := s.repo.Set(ctx, busyCacheKey(adminID, from, to), intervals, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("busy cache write failed", zap.String("admin_id", adminID), zap.Error(err))
	}
}

// ForgetAdmin drops every cached window of the admin.
func (s *CacheService) ForgetAdmin(ctx context.Context, adminID string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, busyCachePattern(adminID)); err != nil {
		s.logger.Warn("busy cache invalidate failed", zap.String("admin_id", adminID), zap.Error(err))
		return err
	}
	return nil
}

func busyCacheKey(adminID string, from, to time.Time) string {
	return fmt.Sprintf("busy:%s:%d:%d", adminID, from.Unix(), to.Unix())
}

func busyCachePattern(adminID string) string {
	return fmt.Sprintf("busy:%s:*", adminID)
}
