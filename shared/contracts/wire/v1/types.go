// Package v1 defines the Beacon wire protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Request types (client -> server).
const (
	TypeAuthLogin        = "auth.login"
	TypeAuthRefresh      = "auth.refresh"
	TypeAuthLogout       = "auth.logout"
	TypeAuthResetRequest = "auth.password_reset.request"
	TypeAuthResetConfirm = "auth.password_reset.confirm"

	TypeChannelCreate      = "channel.create"
	TypeChannelSubscribe   = "channel.subscribe"
	TypeChannelUnsubscribe = "channel.unsubscribe"
	TypeChannelPublish     = "channel.publish"
	TypeChannelInfo        = "channel.info"
	// TypeChannelGet is an alias accepted for channel.info.
	TypeChannelGet  = "channel.get"
	TypeChannelList = "channel.list"

	TypeMessageSend     = "message.send"
	TypeMessageHistory  = "message.history"
	TypeMessageMarkRead = "message.mark_read"
)

// Server types (server -> client).
const (
	// TypeOK acknowledges a request; the payload shape depends on the request type.
	TypeOK = "ok"

	// TypeChannelMessage delivers a published channel message to a subscriber.
	TypeChannelMessage = "channel.message"

	// TypeUserJoined and TypeUserLeft are channel system messages broadcast on
	// membership changes.
	TypeUserJoined = "system.user_joined"
	TypeUserLeft   = "system.user_left"

	// TypeDirectMessage delivers a one-to-one message to its recipient.
	TypeDirectMessage = "message.direct"

	// TypeError is a generic error envelope.
	TypeError = "error"
)

var requestTypes = map[string]struct{}{
	TypeAuthLogin:          {},
	TypeAuthRefresh:        {},
	TypeAuthLogout:         {},
	TypeAuthResetRequest:   {},
	TypeAuthResetConfirm:   {},
	TypeChannelCreate:      {},
	TypeChannelSubscribe:   {},
	TypeChannelUnsubscribe: {},
	TypeChannelPublish:     {},
	TypeChannelInfo:        {},
	TypeChannelGet:         {},
	TypeChannelList:        {},
	TypeMessageSend:        {},
	TypeMessageHistory:     {},
	TypeMessageMarkRead:    {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ValidateRequest performs strict structural validation for a client envelope.
func (e Envelope) ValidateRequest() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if _, ok := requestTypes[e.Type]; !ok {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// ---- Auth payloads ----

// AuthLoginPayload carries login credentials.
type AuthLoginPayload struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	RememberMe bool              `json:"remember_me,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AuthLoginOKPayload is returned on a successful login.
type AuthLoginOKPayload struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthRefreshPayload requests a token rotation.
type AuthRefreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthRefreshOKPayload is returned on a successful rotation.
type AuthRefreshOKPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthLogoutPayload ends the current session. Tokens are taken from the
// connection's session context; the fields exist for clients that track them.
type AuthLogoutPayload struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// AuthResetRequestPayload asks for a password reset token by account email.
type AuthResetRequestPayload struct {
	Email string `json:"email"`
}

// AuthResetRequestOKPayload returns the issued reset token. Deployments
// that deliver the token out of band strip it from this reply.
type AuthResetRequestOKPayload struct {
	ResetToken string    `json:"reset_token,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AuthResetConfirmPayload redeems a reset token for a new password.
type AuthResetConfirmPayload struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

// ---- Channel payloads ----

// ChannelCreatePayload requests a new channel.
type ChannelCreatePayload struct {
	Name           string            `json:"name"`
	Topic          string            `json:"topic,omitempty"`
	Private        bool              `json:"private,omitempty"`
	Persistent     bool              `json:"persistent,omitempty"`
	MaxSubscribers int               `json:"max_subscribers,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ChannelCreateOKPayload returns the allocated channel id.
type ChannelCreateOKPayload struct {
	ChannelID string `json:"channel_id"`
	Name      string `json:"name"`
}

// ChannelRefPayload addresses a channel by name (subscribe/unsubscribe/info).
type ChannelRefPayload struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChannelPublishPayload publishes a message into a channel.
type ChannelPublishPayload struct {
	ChannelName string            `json:"channel_name"`
	Content     string            `json:"content"`
	Kind        string            `json:"kind,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// Exclude lists connection ids that should not receive the fan-out
	// (the sender's other devices, typically).
	Exclude []string `json:"exclude,omitempty"`
}

// ChannelPublishOKPayload acknowledges a publish with the server message id.
type ChannelPublishOKPayload struct {
	MessageID string `json:"message_id"`
}

// ChannelInfoOKPayload is a point-in-time channel snapshot.
type ChannelInfoOKPayload struct {
	ChannelID    string    `json:"channel_id"`
	Name         string    `json:"name"`
	Topic        string    `json:"topic,omitempty"`
	OwnerID      string    `json:"owner_id"`
	Subscribers  int       `json:"subscribers"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ChannelSummary is one row of a channel.list reply.
type ChannelSummary struct {
	ChannelID    string `json:"channel_id"`
	Name         string `json:"name"`
	Topic        string `json:"topic,omitempty"`
	Private      bool   `json:"private"`
	Persistent   bool   `json:"persistent"`
	Subscribers  int    `json:"subscribers"`
	MessageCount int64  `json:"message_count"`
}

// ChannelListOKPayload lists the channels visible to the requester.
type ChannelListOKPayload struct {
	Channels []ChannelSummary `json:"channels"`
}

// ChannelMessagePayload delivers a published message to subscribers.
type ChannelMessagePayload struct {
	MessageID   string            `json:"message_id"`
	ChannelID   string            `json:"channel_id"`
	ChannelName string            `json:"channel_name"`
	SenderID    string            `json:"sender_id"`
	Kind        string            `json:"kind,omitempty"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TS          time.Time         `json:"ts"`
}

// MembershipPayload is carried by system.user_joined / system.user_left.
type MembershipPayload struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	UserID      string    `json:"user_id"`
	TS          time.Time `json:"ts"`
}

// ---- Direct message payloads ----

// MessageSendPayload sends a one-to-one message.
type MessageSendPayload struct {
	RecipientID string            `json:"recipient_id"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MessageSendOKPayload acknowledges a direct message.
type MessageSendOKPayload struct {
	MessageID string `json:"message_id"`
	Delivered bool   `json:"delivered"`
}

// DirectMessagePayload is pushed to the recipient of message.send.
type DirectMessagePayload struct {
	MessageID string            `json:"message_id"`
	SenderID  string            `json:"sender_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TS        time.Time         `json:"ts"`
}

// MessageHistoryPayload requests stored history with another user or channel.
type MessageHistoryPayload struct {
	ChannelID string `json:"channel_id,omitempty"`
	PeerID    string `json:"peer_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// HistoryEntry is a single stored message in a history response.
type HistoryEntry struct {
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	TS        time.Time `json:"ts"`
	Read      bool      `json:"read"`
}

// MessageHistoryOKPayload returns stored messages, newest last.
type MessageHistoryOKPayload struct {
	Messages []HistoryEntry `json:"messages"`
}

// MessageMarkReadPayload marks a stored message as read.
type MessageMarkReadPayload struct {
	MessageID string `json:"message_id"`
}

// ---- Error payload ----

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
