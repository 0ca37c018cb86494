package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reosmzreo0410-netizen/booking-system/internal/models"
	appErrors "github.com/reosmzreo0410-netizen/booking-system/pkg/errors"
	"github.com/reosmzreo0410-netizen/booking-system/pkg/response"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles booking writes per caller. Authenticated callers are
// keyed by user id, guests by client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	swept    time.Time
	every    rate.Limit
	burst    int
	now      func() time.Time
	logger   *zap.Logger
}

// NewRateLimiter allows perMinute requests per caller with the given burst.
// A non-positive perMinute yields a limiter that lets everything through.
func NewRateLimiter(perMinute, burst int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		every:    limit,
		burst:    burst,
		now:      time.Now,
		logger:   logger,
	}
}

// Middleware rejects callers that exceeded their budget with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.every == rate.Inf {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if value, ok := c.Get(ContextUserKey); ok {
			if claims, ok := value.(*models.JWTClaims); ok && claims != nil {
				key = "user:" + claims.UserID
			}
		}
		if !l.allow(key) {
			l.logger.Warn("rate limit exceeded", zap.String("caller", key), zap.String("path", c.FullPath()))
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > limiterIdleTTL {
		for k, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.swept = now
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
