package memory

import (
	"context"
	"sync"
	"time"

	"quiz-engine/internal/domain"
)

// RateLimiter counts submissions per identifier in fixed windows. Check and
// increment happen under one lock, so concurrent callers cannot both pass the last slot.
type RateLimiter struct {
	limit  int64
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]domain.RateLimitRecord
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   int64(limit),
		window:  window,
		clock:   time.Now,
		windows: make(map[string]domain.RateLimitRecord),
	}
}

func (l *RateLimiter) Allow(_ context.Context, key string) (domain.RateLimitRecord, bool, error) {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.windows[key]
	if !ok || !now.Before(record.ResetAt) {
		record = domain.RateLimitRecord{Key: key, Limit: l.limit, ResetAt: now.Add(l.window)}
	}
	if record.Count >= l.limit {
		return record, false, nil
	}
	record.Count++
	l.windows[key] = record
	return record, true, nil
}

// Sweep drops windows that have already reset.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, record := range l.windows {
		if !now.Before(record.ResetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
