package identity

import "errors"

var (
	// ErrNotFound is returned when no user matches the lookup key.
	ErrNotFound = errors.New("user not found")

	// ErrConflict is returned when a create violates a uniqueness constraint.
	ErrConflict = errors.New("user already exists")

	// ErrInvalidInput is returned for structurally invalid input.
	ErrInvalidInput = errors.New("invalid input")
)
