package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/revocation"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/auth/token"
	"beacon/cmd/internal/notify"
)

func newTestAuth(t *testing.T) (*Service, *session.Manager) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := token.DefaultConfig()
	cfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	revoked := revocation.NewStore(log)
	tokens, err := token.NewService(cfg, revoked, nil)
	require.NoError(t, err)

	sessions := session.NewManager(log, tokens, revoked)
	svc, err := NewService(log, identity.NewMemoryStore(), sessions, tokens, notify.Nop{})
	require.NoError(t, err)
	return svc, sessions
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	svc, _ := newTestAuth(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, "ada", "ada@example.com", "correct horse battery")
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	got, sess, err := svc.Authenticate(ctx, "ada", "correct horse battery", false, nil)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.NotEmpty(t, sess.AccessToken)
	require.NotEmpty(t, sess.RefreshToken)

	// Lookups are case-insensitive.
	_, _, err = svc.Authenticate(ctx, "ADA", "correct horse battery", false, nil)
	require.NoError(t, err)
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()

	svc, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "ada", "ada@example.com", "correct horse battery")
	require.NoError(t, err)

	_, _, errWrongPW := svc.Authenticate(ctx, "ada", "wrong password", false, nil)
	_, _, errNoUser := svc.Authenticate(ctx, "nobody", "whatever password", false, nil)

	require.ErrorIs(t, errWrongPW, ErrInvalidCredentials)
	require.ErrorIs(t, errNoUser, ErrInvalidCredentials)
	require.Equal(t, errWrongPW.Error(), errNoUser.Error())
}

func TestVerifyTokenAndGetUser(t *testing.T) {
	t.Parallel()

	svc, _ := newTestAuth(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := svc.Register(ctx, "ada", "ada@example.com", "correct horse battery")
	require.NoError(t, err)

	_, sess, err := svc.Authenticate(ctx, "ada", "correct horse battery", false, nil)
	require.NoError(t, err)

	got, err := svc.VerifyTokenAndGetUser(ctx, sess.AccessToken, now)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	// A refresh token is not an access token.
	_, err = svc.VerifyTokenAndGetUser(ctx, sess.RefreshToken, now)
	require.ErrorIs(t, err, token.ErrWrongTokenType)

	// After logout the access token is dead.
	require.NoError(t, svc.Logout(now, sess.AccessToken, sess.RefreshToken))
	_, err = svc.VerifyTokenAndGetUser(ctx, sess.AccessToken, now)
	require.ErrorIs(t, err, token.ErrTokenRevoked)
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestAuth(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := svc.Register(ctx, "ada", "ada@example.com", "correct horse battery")
	require.NoError(t, err)
	_, sess, err := svc.Authenticate(ctx, "ada", "correct horse battery", false, nil)
	require.NoError(t, err)

	rot, err := svc.Refresh(now, sess.RefreshToken)
	require.NoError(t, err)
	require.Positive(t, rot.ExpiresIn)

	_, err = svc.Refresh(now, sess.RefreshToken)
	require.ErrorIs(t, err, session.ErrTokenRevoked)
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	svc, sessions := newTestAuth(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := svc.Register(ctx, "ada", "ada@example.com", "old password 123")
	require.NoError(t, err)

	_, _, err = svc.Authenticate(ctx, "ada", "old password 123", false, nil)
	require.NoError(t, err)
	_, _, err = svc.Authenticate(ctx, "ada", "old password 123", true, nil)
	require.NoError(t, err)
	require.Equal(t, 2, sessions.Count())

	tok, exp, err := svc.GeneratePasswordResetToken(ctx, "ada@example.com", now)
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	require.True(t, exp.After(now))

	// Peek does not consume.
	userID, err := svc.VerifyPasswordResetToken(tok, now)
	require.NoError(t, err)
	require.Equal(t, u.ID, userID)

	require.NoError(t, svc.ResetPassword(ctx, tok, "new password 456", now))

	// All sessions for the user are gone.
	require.Equal(t, 0, sessions.Count())

	// The token is single use.
	err = svc.ResetPassword(ctx, tok, "another password", now)
	require.ErrorIs(t, err, ErrInvalidResetToken)

	// Old credential dead, new one live.
	_, _, err = svc.Authenticate(ctx, "ada", "old password 123", false, nil)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Authenticate(ctx, "ada", "new password 456", false, nil)
	require.NoError(t, err)
}

func TestPasswordResetTokenExpiry(t *testing.T) {
	t.Parallel()

	svc, _ := newTestAuth(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := svc.Register(ctx, "ada", "ada@example.com", "old password 123")
	require.NoError(t, err)

	tok, _, err := svc.GeneratePasswordResetToken(ctx, "ada@example.com", now)
	require.NoError(t, err)

	_, err = svc.VerifyPasswordResetToken(tok, now.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrInvalidResetToken)

	err = svc.ResetPassword(ctx, tok, "new password 456", now.Add(2*time.Hour))
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestResetForUnknownEmail(t *testing.T) {
	t.Parallel()

	svc, _ := newTestAuth(t)

	_, _, err := svc.GeneratePasswordResetToken(context.Background(), "ghost@example.com", time.Now().UTC())
	require.ErrorIs(t, err, identity.ErrNotFound)
}
