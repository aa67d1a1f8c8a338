// Package auth is the user-facing authentication façade.
//
// It composes the user store, session manager, and token service into
// login/logout/refresh and the password-reset flow. It is the only place
// that sees plaintext passwords, and it normalizes all authentication
// failures to ErrInvalidCredentials so callers cannot distinguish an
// unknown user from a wrong password.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/auth/token"
	"beacon/cmd/internal/metrics"
	"beacon/cmd/internal/notify"
	"beacon/cmd/security/password"
)

// Service implements the high-level auth operations for Beacon.
type Service struct {
	log      *slog.Logger
	users    identity.Store
	sessions *session.Manager
	tokens   *token.Service
	resets   *resetStore
	pw       password.Config
	notify   notify.Notifier

	// decoyHash equalizes the work done for unknown users so that lookup
	// misses and password mismatches are not separable by timing.
	decoyHash string
}

// NewService constructs the auth façade.
func NewService(
	log *slog.Logger,
	users identity.Store,
	sessions *session.Manager,
	tokens *token.Service,
	sink notify.Notifier,
) (*Service, error) {
	if sink == nil {
		sink = notify.Nop{}
	}
	pw := password.DefaultConfig()
	decoy, err := pw.Hash("beacon-decoy-password")
	if err != nil {
		return nil, err
	}
	return &Service{
		log:       log,
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		resets:    newResetStore(),
		pw:        pw,
		notify:    sink,
		decoyHash: decoy,
	}, nil
}

// Register creates a user record with an Argon2id password hash.
func (s *Service) Register(ctx context.Context, username, email, plainPassword string) (identity.User, error) {
	hash, err := s.pw.Hash(plainPassword)
	if err != nil {
		return identity.User{}, err
	}
	u, err := s.users.Create(ctx, identity.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		return identity.User{}, err
	}
	s.notify.Publish("auth.user.registered", map[string]any{"user_id": u.ID})
	return u, nil
}

// Authenticate verifies credentials and opens a new session.
//
// Unknown user and wrong password return the identical error value.
func (s *Service) Authenticate(ctx context.Context, username, plainPassword string, rememberMe bool, metadata map[string]string) (identity.User, session.Session, error) {
	now := time.Now().UTC()

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Burn comparable work before failing identically.
			_, _ = s.pw.Verify(s.decoyHash, plainPassword)
			return identity.User{}, session.Session{}, ErrInvalidCredentials
		}
		return identity.User{}, session.Session{}, err
	}

	ok, err := s.pw.Verify(u.PasswordHash, plainPassword)
	if err != nil || !ok {
		return identity.User{}, session.Session{}, ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(now, u.ID, rememberMe, metadata)
	if err != nil {
		return identity.User{}, session.Session{}, err
	}

	metrics.LoginsTotal.Inc()
	s.notify.Publish("auth.login", map[string]any{"user_id": u.ID, "session_id": sess.ID})
	return u, sess, nil
}

// VerifyTokenAndGetUser validates an access token and loads its user.
func (s *Service) VerifyTokenAndGetUser(ctx context.Context, accessToken string, now time.Time) (identity.User, error) {
	claims, err := s.tokens.VerifyKind(accessToken, token.KindAccess, now)
	if err != nil {
		return identity.User{}, err
	}

	// Server-authoritative check: the backing session must still exist.
	if _, err := s.sessions.Get(claims.SessionID); err != nil {
		return identity.User{}, token.ErrTokenRevoked
	}

	return s.users.GetByID(ctx, claims.UserID)
}

// Refresh rotates the presented refresh token.
func (s *Service) Refresh(now time.Time, refreshToken string) (session.Rotated, error) {
	return s.sessions.Rotate(now, refreshToken)
}

// TouchSession refreshes a session's last_activity timestamp. Called by the
// gateway on every authenticated inbound frame; best-effort.
func (s *Service) TouchSession(sessionID string, now time.Time) {
	s.sessions.Touch(sessionID, now)
}

// Logout revokes the token pair and ends the session.
func (s *Service) Logout(now time.Time, accessToken, refreshToken string) error {
	if err := s.sessions.End(now, accessToken, refreshToken); err != nil {
		return err
	}
	s.notify.Publish("auth.logout", map[string]any{})
	return nil
}

// GeneratePasswordResetToken issues a single-use opaque reset token for the
// account registered under email. The token is distinct from session tokens
// and independently revocable.
func (s *Service) GeneratePasswordResetToken(ctx context.Context, email string, now time.Time) (string, time.Time, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, err
	}
	tok, exp, err := s.resets.issue(u.ID, now)
	if err != nil {
		return "", time.Time{}, err
	}
	s.notify.Publish("auth.password_reset.requested", map[string]any{"user_id": u.ID})
	return tok, exp, nil
}

// VerifyPasswordResetToken checks a reset token without consuming it.
func (s *Service) VerifyPasswordResetToken(tok string, now time.Time) (string, error) {
	userID, ok := s.resets.peek(tok, now)
	if !ok {
		return "", ErrInvalidResetToken
	}
	return userID, nil
}

// ResetPassword consumes a reset token, re-hashes the password, and ends
// every active session for the user.
func (s *Service) ResetPassword(ctx context.Context, tok, newPassword string, now time.Time) error {
	userID, ok := s.resets.consume(tok, now)
	if !ok {
		return ErrInvalidResetToken
	}

	hash, err := s.pw.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, now); err != nil {
		return err
	}

	s.sessions.EndAllForUser(now, userID)

	s.log.Info("auth.password_reset", "user_id", userID)
	s.notify.Publish("auth.password_reset.done", map[string]any{"user_id": userID})
	return nil
}
