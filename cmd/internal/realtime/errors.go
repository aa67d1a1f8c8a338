package realtime

import "errors"

var (
	// ErrChannelNotFound is returned for lookups of unknown channels.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelExists is returned when creating a channel whose name is taken.
	ErrChannelExists = errors.New("channel already exists")

	// ErrChannelFull is returned when a subscribe would exceed max_subscribers.
	ErrChannelFull = errors.New("channel full")

	// ErrChannelClosed is returned when an operation races channel termination.
	ErrChannelClosed = errors.New("channel closed")

	// ErrNotSubscribed is returned when publishing to a channel without a
	// subscription.
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrUserNotConnected is returned when no live connection exists for a user.
	ErrUserNotConnected = errors.New("user not connected")

	// ErrPresenceNotFound is returned for presence lookups of offline users.
	ErrPresenceNotFound = errors.New("presence record not found")
)
