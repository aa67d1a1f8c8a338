package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"beacon/cmd/identity/ids"
	"beacon/cmd/internal/auth/revocation"
	"beacon/cmd/internal/auth/token"
	sectoken "beacon/cmd/security/token"
)

// Session is the server-side record binding a user to its current token pair.
type Session struct {
	ID              string
	UserID          string
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	RememberMe      bool
	Metadata        map[string]string
	CreatedAt       time.Time
	LastActivity    time.Time
}

// entry wraps a session with its own lock. All mutations of one session go
// through this lock, which serializes concurrent rotations of the same id.
type entry struct {
	mu    sync.Mutex
	s     Session
	ended bool
}

// Manager owns all live sessions. It issues token pairs through the token
// service and revokes them through the revocation store.
type Manager struct {
	log     *slog.Logger
	tokens  *token.Service
	revoked *revocation.Store

	mu       sync.RWMutex
	sessions map[string]*entry
	byUser   map[string]map[string]struct{}
}

// NewManager constructs an empty session Manager.
func NewManager(log *slog.Logger, tokens *token.Service, revoked *revocation.Store) *Manager {
	return &Manager{
		log:      log,
		tokens:   tokens,
		revoked:  revoked,
		sessions: make(map[string]*entry),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Create issues a fresh token pair and stores a new session.
// Both tokens carry the same session id.
func (m *Manager) Create(now time.Time, userID string, rememberMe bool, metadata map[string]string) (Session, error) {
	sid, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	access, accessExp, err := m.tokens.Issue(token.KindAccess, userID, sid, rememberMe, now)
	if err != nil {
		return Session{}, err
	}
	refresh, _, err := m.tokens.Issue(token.KindRefresh, userID, sid, rememberMe, now)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		ID:              sid,
		UserID:          userID,
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		RefreshToken:    refresh,
		RememberMe:      rememberMe,
		Metadata:        metadata,
		CreatedAt:       now,
		LastActivity:    now,
	}

	m.mu.Lock()
	m.sessions[sid] = &entry{s: s}
	set, ok := m.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[userID] = set
	}
	set[sid] = struct{}{}
	m.mu.Unlock()

	m.log.Info("session.created", "session_id", sid, "user_id", userID, "remember_me", rememberMe)
	return s, nil
}

// Get returns a copy of the session with the given id.
func (m *Manager) Get(sessionID string) (Session, error) {
	e := m.lookup(sessionID)
	if e == nil {
		return Session{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return Session{}, ErrSessionNotFound
	}
	return e.s, nil
}

// Touch updates last_activity for a session (best-effort).
func (m *Manager) Touch(sessionID string, now time.Time) {
	e := m.lookup(sessionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	if !e.ended {
		e.s.LastActivity = now
	}
	e.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// End revokes both presented tokens and deletes the session they belong to.
// The session is identified from whichever token still verifies; if neither
// does, ErrSessionNotFound is returned.
func (m *Manager) End(now time.Time, accessToken, refreshToken string) error {
	var sid string

	if c, err := m.tokens.Verify(accessToken, now); err == nil {
		sid = c.SessionID
	}
	if c, err := m.tokens.Verify(refreshToken, now); err == nil {
		if sid != "" && sid != c.SessionID {
			return ErrInvalidToken
		}
		sid = c.SessionID
	}
	if sid == "" {
		return ErrSessionNotFound
	}

	return m.end(now, sid, "logout")
}

// EndAllForUser enumerates and ends every session for a user.
// Used after password reset.
func (m *Manager) EndAllForUser(now time.Time, userID string) {
	m.mu.RLock()
	sids := make([]string, 0, len(m.byUser[userID]))
	for sid := range m.byUser[userID] {
		sids = append(sids, sid)
	}
	m.mu.RUnlock()

	for _, sid := range sids {
		_ = m.end(now, sid, "revoke_all")
	}
}

func (m *Manager) lookup(sessionID string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// end revokes the session's stored token pair and removes the record.
// The stored pair is canonical: presented tokens may be stale copies.
func (m *Manager) end(now time.Time, sid, reason string) error {
	e := m.lookup(sid)
	if e == nil {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return ErrSessionNotFound
	}
	e.ended = true
	s := e.s
	e.mu.Unlock()

	m.revokeToken(s.AccessToken, now)
	m.revokeToken(s.RefreshToken, now)

	m.mu.Lock()
	delete(m.sessions, sid)
	if set, ok := m.byUser[s.UserID]; ok {
		delete(set, sid)
		if len(set) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
	m.mu.Unlock()

	m.log.Info("session.ended", "session_id", sid, "user_id", s.UserID, "reason", reason)
	return nil
}

// revokeToken adds the token's fingerprint to the revocation store, keyed by
// the token's own expiry when it still verifies. Tokens that no longer
// verify (expired/garbage) cannot authenticate and need no entry.
func (m *Manager) revokeToken(signed string, now time.Time) {
	if signed == "" {
		return
	}
	c, err := m.tokens.Verify(signed, now)
	if err != nil && !errors.Is(err, token.ErrTokenRevoked) {
		return
	}
	exp := c.ExpiresAt
	if err != nil {
		// Already revoked: keep the entry alive conservatively.
		exp = now.Add(m.tokens.TTL(token.KindRefresh, true))
	}
	m.revoked.Add(sectoken.Fingerprint(signed), exp)
}
