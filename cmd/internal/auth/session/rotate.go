package session

import (
	"errors"
	"time"

	"beacon/cmd/internal/auth/token"
	"beacon/cmd/internal/metrics"
	sectoken "beacon/cmd/security/token"
)

// Rotated is the result of a refresh rotation.
type Rotated struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Rotate atomically retires a refresh token and re-issues a fresh pair.
//
// Ordering: the new pair is issued BEFORE the old refresh token is revoked,
// so a downstream issuance failure leaves the session with its old, still
// valid refresh token instead of none at all. Replay of an already-rotated
// refresh token fails with ErrTokenRevoked.
//
// Concurrent rotations of the same session serialize on the entry lock; the
// loser observes the already-rotated state and gets ErrTokenRevoked.
func (m *Manager) Rotate(now time.Time, refreshToken string) (Rotated, error) {
	claims, err := m.tokens.VerifyKind(refreshToken, token.KindRefresh, now)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrTokenRevoked):
			return Rotated{}, ErrTokenRevoked
		case errors.Is(err, token.ErrWrongTokenType):
			return Rotated{}, ErrInvalidTokenType
		default:
			return Rotated{}, ErrInvalidToken
		}
	}

	e := m.lookup(claims.SessionID)
	if e == nil {
		return Rotated{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		return Rotated{}, ErrSessionNotFound
	}

	// Re-check under the lock: a concurrent rotation may have revoked the
	// presented token between Verify and lock acquisition.
	if m.revoked.Contains(sectoken.Fingerprint(refreshToken)) {
		return Rotated{}, ErrTokenRevoked
	}
	if e.s.RefreshToken != refreshToken {
		return Rotated{}, ErrTokenRevoked
	}

	access, accessExp, err := m.tokens.Issue(token.KindAccess, e.s.UserID, e.s.ID, e.s.RememberMe, now)
	if err != nil {
		return Rotated{}, err
	}
	refresh, _, err := m.tokens.Issue(token.KindRefresh, e.s.UserID, e.s.ID, e.s.RememberMe, now)
	if err != nil {
		return Rotated{}, err
	}

	// One-time use: the presented token dies only after the new pair exists.
	m.revoked.Add(sectoken.Fingerprint(refreshToken), claims.ExpiresAt)

	e.s.AccessToken = access
	e.s.AccessExpiresAt = accessExp
	e.s.RefreshToken = refresh
	e.s.LastActivity = now

	metrics.RotationsTotal.Inc()
	m.log.Info("session.rotated", "session_id", e.s.ID, "user_id", e.s.UserID)

	return Rotated{
		SessionID:    e.s.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    accessExp.Sub(now),
	}, nil
}
