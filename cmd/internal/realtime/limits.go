package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message content length (runes).
	maxMessageChars = 4000
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

const (
	// Presence sweeper defaults. A connection whose last heartbeat is older
	// than presenceTimeout is evicted on the next sweep.
	presenceSweepInterval = 30 * time.Second
	presenceTimeout       = 2 * time.Minute
)

const (
	// Bound on queued channel actor operations before callers block.
	channelOpQueueSize = 128
)
