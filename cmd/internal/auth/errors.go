package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for both unknown users and wrong
	// passwords. The two cases must be indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidResetToken is returned for unknown, expired, or already
	// consumed password-reset tokens.
	ErrInvalidResetToken = errors.New("invalid reset token")
)
