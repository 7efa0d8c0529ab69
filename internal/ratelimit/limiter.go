// Package ratelimit implements sliding-window message admission per user.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks recent message timestamps per user id. Windows are held in
// memory only and reset implicitly as entries age out.
type Limiter struct {
	mu      sync.Mutex
	windows map[int64][]time.Time
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		windows: make(map[int64][]time.Time),
		now:     time.Now,
	}
}

// Limited prunes entries older than window, then checks admission for one new
// message. A rejected message is not recorded, so a user at the limit recovers
// as soon as an old entry ages out rather than being pushed further back by
// their own retries.
func (l *Limiter) Limited(userID int64, maxMessages int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	kept := l.windows[userID][:0]
	for _, ts := range l.windows[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= maxMessages {
		l.windows[userID] = kept
		return true
	}

	l.windows[userID] = append(kept, now)
	return false
}

// Cleanup drops windows whose newest entry is older than maxAge. Intended to
// be called periodically to keep idle users from pinning memory.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for userID, window := range l.windows {
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, userID)
		}
	}
}
