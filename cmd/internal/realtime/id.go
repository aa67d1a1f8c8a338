package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"beacon/cmd/identity/ids"
)

// NewConnID returns a ULID used as websocket connection id.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewChannelID returns a ULID used as channel id.
func NewChannelID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewMessageID returns a ULID used as message id.
// ULIDs sort by creation time, which keeps history queries cheap.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewRandomHex returns a cryptographically secure random hex string of
// length 2*nBytes. Used for envelope ids where ordering does not matter.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
