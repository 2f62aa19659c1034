package realtime

import (
	"sync"
	"time"
)

// IdentityLimiter is a per-identity fixed-window admission limiter.
//
// A window starts at the first event for an identity and restarts once more
// than window has elapsed since that start. Events are admitted while the
// in-window count is <= limit.
type IdentityLimiter struct {
	mu      sync.Mutex
	entries map[string]*limitEntry
	limit   int
	window  time.Duration
}

type limitEntry struct {
	count int
	start time.Time
}

// NewIdentityLimiter constructs an IdentityLimiter with safe defaults when inputs are invalid.
func NewIdentityLimiter(limit int, window time.Duration) *IdentityLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &IdentityLimiter{
		entries: make(map[string]*limitEntry),
		limit:   limit,
		window:  window,
	}
}

// Admit reports whether an event for identity at time "now" should be processed.
func (l *IdentityLimiter) Admit(identity string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[identity]
	if e == nil {
		if len(l.entries) >= rateLimitGCThreshold {
			l.pruneLocked(now)
			if len(l.entries) >= rateLimitMaxIdentities {
				return false
			}
		}
		e = &limitEntry{start: now}
		l.entries[identity] = e
	} else if now.Sub(e.start) > l.window {
		e.start = now
		e.count = 0
	}

	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// Forget drops the window for identity (e.g. after it leaves).
func (l *IdentityLimiter) Forget(identity string) {
	l.mu.Lock()
	delete(l.entries, identity)
	l.mu.Unlock()
}

// Len returns the number of tracked identities.
func (l *IdentityLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pruneLocked drops entries whose window has already lapsed.
func (l *IdentityLimiter) pruneLocked(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.start) > l.window {
			delete(l.entries, id)
		}
	}
}
