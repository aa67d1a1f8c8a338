package token

import "errors"

var (
	// ErrTokenMalformed is returned when a token fails signature or structural checks.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenExpired is returned when a token's expiry claim is in the past.
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongTokenType is returned when an access token is presented where a
	// refresh token is required, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")

	// ErrTokenRevoked is returned when the token's fingerprint is in the
	// revocation store, regardless of claim validity.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
