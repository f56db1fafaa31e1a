package ratelimitsvc

import (
	"context"
	"sync"
	"time"

	"github.com/liceojbh/intranet/core/messaging"
)

type window struct {
	start time.Time
	end   time.Time
	count int
}

// MemoryLimiter is a process-local limiter for single-instance deployments and tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

var _ messaging.RateLimiter = (*MemoryLimiter)(nil) // interface compliance check

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]window), now: time.Now}
}

// Allow counts the call in the fixed window of length span that contains now.
// Windows are aligned to span, so a caller can make up to 2x limit calls
// across a window boundary: limit at the end of one window and limit again at the start of the next.
func (rl *MemoryLimiter) Allow(_ context.Context, key string, limit int, span time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	start := rl.now().UTC().Truncate(span)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w := rl.windows[key]
	if !w.start.Equal(start) {
		w = window{start: start, end: start.Add(span)}
	}
	w.count++
	rl.windows[key] = w
	return w.count <= limit, nil
}

// Reap drops the windows that already ended and returns how many were dropped.
func (rl *MemoryLimiter) Reap(_ context.Context) (int, error) {
	now := rl.now().UTC()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for k, w := range rl.windows {
		if !w.end.After(now) {
			delete(rl.windows, k)
			n++
		}
	}
	return n, nil
}
