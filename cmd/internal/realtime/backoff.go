package realtime

import (
	"context"
	"time"
)

// Backoff yields exponentially growing reconnect delays: initial, doubling,
// capped at max. It never gives up; only context cancellation stops a wait.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
	attempt int
}

// NewBackoff constructs a Backoff with safe defaults when inputs are invalid.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = backoffInitial
	}
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next returns the delay for the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.attempt++
	b.next *= 2
	if b.next > b.max || b.next <= 0 {
		b.next = b.max
	}
	return d
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.next = b.initial
	b.attempt = 0
}

// sleepCtx waits for d or until ctx is done. It reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
