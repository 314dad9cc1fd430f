package app

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepAbove = 4096
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sendLimiter is a per-user token bucket for sendMessage. A nil limiter
// allows everything.
type sendLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*userLimiter
	now      func() time.Time
}

func newSendLimiter(perSecond float64, burst int) *sendLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sendLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[int64]*userLimiter),
		now:      time.Now,
	}
}

func (l *sendLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[userID]
	if !ok {
		if len(l.limiters) >= limiterSweepAbove {
			l.sweep(now)
		}
		entry = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *sendLimiter) sweep(now time.Time) {
	for userID, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, userID)
		}
	}
}
