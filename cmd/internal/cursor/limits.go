package cursor

import "time"

// Occupancy and memory bounds for remote cursors.
const (
	// MaxUsers is the occupancy cap on distinct live identities.
	MaxUsers = 10

	// Truncation limits, in runes.
	MaxIdentityChars = 50
	MaxNameChars     = 20

	// TrailCapacity bounds the laser trail; the oldest sample is evicted first.
	TrailCapacity = 50

	// InactivityTimeout: a record idle for longer than this is swept.
	InactivityTimeout = 3 * time.Second
)
