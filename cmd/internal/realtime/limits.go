package realtime

import "time"

// Security/performance limits for the channel client.
const (
	// Max bytes per websocket frame read (hard limit). The application payload
	// inside a frame is further capped by the codec.
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max bytes read from a negotiation response.
	maxNegotiateBytes = 64 << 10
)

const (
	// Heartbeat defaults (can be overridden via Settings).
	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-identity cursor rate limit (events per window).
	rateLimitEvents = 30
	rateLimitWindow = time.Second

	// Limiter tables larger than this are pruned lazily on insert.
	rateLimitGCThreshold = 64
	// Hard cap on tracked identities; new identities beyond it are refused.
	rateLimitMaxIdentities = 1024

	// Reconnect backoff: 1s doubling, capped.
	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second

	// Bounded teardown.
	closeGrace    = 2 * time.Second
	writeTimeout  = 5 * time.Second
	negotiateWait = 10 * time.Second
	dialTimeout   = 10 * time.Second
)
