package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// opLimiter throttles outbound requests per operation key (typically a table
// or procedure name) so one chatty screen cannot starve the rest of the app.
// Entries expire after the provided ttl when no longer used.
type opLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

func newOpLimiter(requests int, window time.Duration, burst int, ttl time.Duration) *opLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &opLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Wait blocks until the operation may proceed or the context is canceled.
func (l *opLimiter) Wait(ctx context.Context, key string) error {
	if key == "" {
		key = "unknown"
	}

	now := l.now()

	l.mu.Lock()
	entry := l.getEntryLocked(key, now)
	l.gcLocked(now)
	l.mu.Unlock()

	return entry.limiter.Wait(ctx)
}

func (l *opLimiter) getEntryLocked(key string, now time.Time) *limiterEntry {
	if entry, ok := l.entries[key]; ok {
		entry.lastSeen = now
		return entry
	}

	entry := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.entries[key] = entry
	return entry
}

func (l *opLimiter) gcLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.ttl {
			delete(l.entries, key)
		}
	}
}
