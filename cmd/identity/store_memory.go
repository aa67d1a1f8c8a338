package identity

import (
	"context"
	"sync"
	"time"

	"beacon/cmd/identity/ids"
)

// MemoryStore is an in-memory Store for dev and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]User
	byUsername map[string]string // normalized username -> id
	byEmail    map[string]string // normalized email -> id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// GetByUsername looks a user up by normalized username.
func (s *MemoryStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}

// GetByEmail looks a user up by normalized email.
func (s *MemoryStore) GetByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}

// GetByID looks a user up by id.
func (s *MemoryStore) GetByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// Create registers a new user, enforcing username/email uniqueness.
func (s *MemoryStore) Create(_ context.Context, in CreateUserInput) (User, error) {
	uname := NormalizeUsername(in.Username)
	email := NormalizeEmail(in.Email)
	if uname == "" || in.PasswordHash == "" {
		return User{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byUsername[uname]; dup {
		return User{}, ErrConflict
	}
	if email != "" {
		if _, dup := s.byEmail[email]; dup {
			return User{}, ErrConflict
		}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
	}

	s.byID[id] = u
	s.byUsername[uname] = id
	if email != "" {
		s.byEmail[email] = id
	}
	return u, nil
}

// UpdatePassword replaces the stored password hash for a user.
func (s *MemoryStore) UpdatePassword(_ context.Context, userID, passwordHash string, _ time.Time) error {
	if passwordHash == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	s.byID[userID] = u
	return nil
}
