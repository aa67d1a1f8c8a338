// Package history persists channel and direct messages and serves
// bounded, newest-first reads for the history operations.
package history

import (
	"context"
	"errors"
	"time"
)

// Message is a persisted message, either channel-scoped or direct.
// Exactly one of ChannelID / RecipientID is set.
type Message struct {
	ID          string
	ChannelID   string
	SenderID    string
	RecipientID string
	Content     string
	Kind        string
	Metadata    map[string]string
	CreatedAt   time.Time
	Read        bool
	ReadAt      time.Time
}

// DefaultLimit is applied when a history request carries no limit.
const DefaultLimit = 50

// MaxLimit caps a single history read.
const MaxLimit = 500

var (
	// ErrNotFound is returned when no message matches the given id.
	ErrNotFound = errors.New("message not found")

	// ErrNotRecipient is returned when a user tries to mark a message it
	// did not receive.
	ErrNotRecipient = errors.New("not the message recipient")
)

// Store is the persistence boundary for messages.
type Store interface {
	// Save appends a message. Message ids are unique.
	Save(ctx context.Context, msg Message) error

	// Get returns the message with the given id.
	Get(ctx context.Context, id string) (Message, error)

	// ListByChannel returns up to limit newest messages of a channel,
	// oldest first within the returned slice.
	ListByChannel(ctx context.Context, channelID string, limit int) ([]Message, error)

	// ListDirect returns up to limit newest direct messages exchanged
	// between two users, oldest first within the returned slice.
	ListDirect(ctx context.Context, userA, userB string, limit int) ([]Message, error)

	// MarkRead flags a direct message as read by its recipient.
	MarkRead(ctx context.Context, messageID, userID string, now time.Time) error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
