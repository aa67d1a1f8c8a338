package identity

import (
	"context"
	"time"
)

// User is Beacon's canonical security principal.
type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUserInput describes a user registration request.
type CreateUserInput struct {
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	Now          time.Time
}

// Store is the user-record persistence boundary.
//
// Lookups by username/email are case-insensitive (normalized form).
type Store interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, in CreateUserInput) (User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, now time.Time) error
}
