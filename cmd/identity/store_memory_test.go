package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateAndLookups(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.Create(ctx, CreateUserInput{
		Username:     "Ada",
		Email:        "Ada@Example.com",
		PasswordHash: "$argon2id$fake",
		Now:          now,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatalf("missing id")
	}

	// Username and email lookups are case-insensitive.
	got, err := s.GetByUsername(ctx, "ada")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByUsername: %v / %+v", err, got)
	}
	got, err = s.GetByEmail(ctx, "ADA@EXAMPLE.COM")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetByEmail: %v / %+v", err, got)
	}
	got, err = s.GetByID(ctx, u.ID)
	if err != nil || got.Username != "Ada" {
		t.Fatalf("GetByID: %v / %+v", err, got)
	}
}

func TestCreateConflicts(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateUserInput{Username: "ada", Email: "ada@example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Same username, different case.
	if _, err := s.Create(ctx, CreateUserInput{Username: "ADA", Email: "other@example.com", PasswordHash: "h"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("username dup: err=%v want ErrConflict", err)
	}
	// Same email.
	if _, err := s.Create(ctx, CreateUserInput{Username: "grace", Email: "Ada@example.com", PasswordHash: "h"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("email dup: err=%v want ErrConflict", err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, CreateUserInput{Username: "  ", PasswordHash: "h"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank username: err=%v want ErrInvalidInput", err)
	}
	if _, err := s.Create(ctx, CreateUserInput{Username: "ada"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing hash: err=%v want ErrInvalidInput", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.Create(ctx, CreateUserInput{Username: "ada", PasswordHash: "old"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.UpdatePassword(ctx, u.ID, "new", now); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, _ := s.GetByID(ctx, u.ID)
	if got.PasswordHash != "new" {
		t.Fatalf("hash not updated: %q", got.PasswordHash)
	}

	if err := s.UpdatePassword(ctx, "missing", "new", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: err=%v want ErrNotFound", err)
	}
}
