package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches the given id or tokens.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidToken is returned when a presented token is malformed or expired.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidTokenType is returned when an access token is presented where a
	// refresh token is expected.
	ErrInvalidTokenType = errors.New("invalid token type")

	// ErrTokenRevoked is returned when a rotated or revoked token is replayed.
	ErrTokenRevoked = errors.New("token revoked")
)
